// Package config holds the read-only configuration snapshot consumed by the
// bridge core. Loading the snapshot from YAML and watching it for changes
// are treated as an external collaborator relative to the core pipeline:
// the core only ever sees a *Snapshot obtained from a Store.
package config

import (
	"fmt"
	"sort"
	"strings"
)

// ServiceType identifies the wire dialect of an upstream channel. All three
// are reached as OpenAI-shaped HTTP endpoints; service_type only affects
// which base URL conventions and headers UpstreamClient applies.
type ServiceType string

const (
	ServiceOpenAI    ServiceType = "openai"
	ServiceAnthropic ServiceType = "anthropic"
	ServiceGoogle    ServiceType = "google"
)

// ModelAlias is a parsed "alias:real" entry from a Channel's Models list.
// Channel.Models entries that contain no colon have Alias == Real.
type ModelAlias struct {
	Alias string
	Real  string
}

// ParseModelAlias parses a single models[] entry.
func ParseModelAlias(entry string) ModelAlias {
	entry = strings.TrimSpace(entry)
	if idx := strings.IndexByte(entry, ':'); idx >= 0 {
		alias := strings.TrimSpace(entry[:idx])
		real := strings.TrimSpace(entry[idx+1:])
		if alias != "" && real != "" {
			return ModelAlias{Alias: alias, Real: real}
		}
	}
	return ModelAlias{Alias: entry, Real: entry}
}

// Channel is a single configured upstream endpoint.
type Channel struct {
	Name        string      `yaml:"name"`
	BaseURL     string      `yaml:"base_url"`
	APIKey      string      `yaml:"api_key"`
	ServiceType ServiceType `yaml:"service_type"`
	Models      []string    `yaml:"models"`
	Priority    int         `yaml:"priority"`
	IsDefault   bool        `yaml:"is_default"`

	// configOrder records the channel's position in the configuration file,
	// used to break ties when priority and is_default are both equal.
	configOrder int
}

// Placeholder reports whether the channel is missing a key or model list
// and must be skipped at routing time (spec.md §3 Channel invariant).
func (c Channel) Placeholder() bool {
	return strings.TrimSpace(c.APIKey) == "" || len(c.Models) == 0
}

// Aliases returns the parsed model-alias list for this channel.
func (c Channel) Aliases() []ModelAlias {
	out := make([]ModelAlias, 0, len(c.Models))
	for _, m := range c.Models {
		out = append(out, ParseModelAlias(m))
	}
	return out
}

// ResolveReal returns the real upstream model name for a requested alias,
// and whether this channel advertises that alias at all.
func (c Channel) ResolveReal(requested string) (string, bool) {
	for _, a := range c.Aliases() {
		if a.Alias == requested {
			return a.Real, true
		}
	}
	return "", false
}

// Features holds the global feature-flag block.
type Features struct {
	EnableFunctionCalling     bool   `yaml:"enable_function_calling"`
	ConvertDeveloperToSystem  bool   `yaml:"convert_developer_to_system"`
	KeyPassthrough            bool   `yaml:"key_passthrough"`
	ModelPassthrough          bool   `yaml:"model_passthrough"`
	PromptTemplate            string `yaml:"prompt_template"`
	LogLevel                  string `yaml:"log_level"`
	ThinkMode                 string `yaml:"think_mode"` // "pass" | "strip"
	TriggerToken              string `yaml:"trigger_token"`
	EnvelopeCapBytes          int    `yaml:"envelope_cap_bytes"`
}

// ClientAuthentication holds the bearer-token allow-list.
type ClientAuthentication struct {
	AllowedKeys []string `yaml:"allowed_keys"`
}

// Server holds listener and default-timeout settings.
type Server struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	Timeout int    `yaml:"timeout"` // seconds
}

// Config is the full, as-loaded configuration document.
type Config struct {
	Server               Server               `yaml:"server"`
	UpstreamServices     []Channel            `yaml:"upstream_services"`
	ClientAuthentication ClientAuthentication `yaml:"client_authentication"`
	Features             Features             `yaml:"features"`
}

// DefaultTriggerToken is used when features.trigger_token is unset. It is
// deliberately high-entropy and URL/XML-safe so it cannot plausibly appear
// in ordinary prose or collide with SSE framing bytes (spec.md §3
// TriggerToken contract).
const DefaultTriggerToken = "§§TOOL_CALL_7f3a9b2e§§"

// DefaultEnvelopeCapBytes bounds unbounded envelope accumulation during
// streaming parsing (spec.md §5 Resource bounds).
const DefaultEnvelopeCapBytes = 256 * 1024

// DefaultPromptTemplate is used when features.prompt_template is unset. It
// must contain the two required placeholders.
const DefaultPromptTemplate = `You can call functions to help answer the user. When you need to call one or more functions, respond with nothing but the token {trigger_signal} followed immediately by an envelope in this exact shape:

<tool_calls>
  <tool_call>
    <name>FUNCTION_NAME</name>
    <arguments>{"key": "value"}</arguments>
  </tool_call>
</tool_calls>

Only emit {trigger_signal} when you intend to call a function; any text before it is shown to the user as your reply. Do not wrap the envelope in markdown code fences. Do not emit more than one envelope.

Available functions:
{tools_list}`

// Normalize fills in defaults and precomputes configOrder/derived fields.
// It never mutates the receiver; it returns an adjusted copy.
func (c Config) Normalize() Config {
	out := c
	for i := range out.UpstreamServices {
		out.UpstreamServices[i].configOrder = i
	}
	if strings.TrimSpace(out.Features.PromptTemplate) == "" {
		out.Features.PromptTemplate = DefaultPromptTemplate
	}
	if strings.TrimSpace(out.Features.TriggerToken) == "" {
		out.Features.TriggerToken = DefaultTriggerToken
	}
	if out.Features.EnvelopeCapBytes <= 0 {
		out.Features.EnvelopeCapBytes = DefaultEnvelopeCapBytes
	}
	switch strings.ToLower(strings.TrimSpace(out.Features.ThinkMode)) {
	case "strip":
		out.Features.ThinkMode = "strip"
	default:
		out.Features.ThinkMode = "pass"
	}
	if out.Server.Timeout <= 0 {
		out.Server.Timeout = 180
	}
	return out
}

// Validate checks the prompt template contains both required placeholders
// and that there is at least one channel once defaults are applied.
func (c Config) Validate() error {
	if !strings.Contains(c.Features.PromptTemplate, "{tools_list}") ||
		!strings.Contains(c.Features.PromptTemplate, "{trigger_signal}") {
		return fmt.Errorf("config: features.prompt_template must contain {tools_list} and {trigger_signal}")
	}
	return nil
}

// EligibleChannels implements the routing algorithm of spec.md §4.2 steps
// 1-4: candidate selection, priority/is_default/config-order sort, and
// placeholder filtering. model is the requested (possibly aliased) model
// name as received from the client.
func (c Config) EligibleChannels(model string) []Channel {
	var candidates []Channel

	if c.Features.ModelPassthrough {
		candidates = append(candidates, c.UpstreamServices...)
	} else {
		for _, ch := range c.UpstreamServices {
			if _, ok := ch.ResolveReal(model); ok {
				candidates = append(candidates, ch)
			}
		}
		if len(candidates) == 0 {
			// Step 3: fall back to the highest-priority default channel,
			// else the highest-priority channel overall.
			var def, any *Channel
			for i := range c.UpstreamServices {
				ch := &c.UpstreamServices[i]
				if ch.Placeholder() {
					continue
				}
				if any == nil || higherPriority(*ch, *any) {
					any = ch
				}
				if ch.IsDefault && (def == nil || higherPriority(*ch, *def)) {
					def = ch
				}
			}
			if def != nil {
				candidates = append(candidates, *def)
			} else if any != nil {
				candidates = append(candidates, *any)
			}
		}
	}

	out := make([]Channel, 0, len(candidates))
	for _, ch := range candidates {
		if ch.Placeholder() {
			continue
		}
		out = append(out, ch)
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if a.IsDefault != b.IsDefault {
			return a.IsDefault
		}
		return a.configOrder < b.configOrder
	})
	return out
}

func higherPriority(a, b Channel) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return a.configOrder < b.configOrder
}

// IsAllowedKey performs the client bearer-key allow-list check. Comparison
// is delegated to the caller (bridge.Authenticator) so it can be made
// constant-time; this method exists for tests and simple call sites.
func (c ClientAuthentication) IsAllowedKey(key string) bool {
	for _, k := range c.AllowedKeys {
		if k == key {
			return true
		}
	}
	return false
}
