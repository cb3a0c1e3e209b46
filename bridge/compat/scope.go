package compat

// IsSupportedEndpoint reports whether kind is a protocol this proxy
// actually bridges. The router recognizes every OpenAI-shaped path well
// enough to classify and reject it cleanly, but only chat completions are
// translated — translating Responses, legacy Completions, or the
// Anthropic Messages shape is out of scope.
func IsSupportedEndpoint(kind EndpointKind) bool {
	return kind == EndpointChatCompletions
}
