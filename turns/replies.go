package turns

import "regexp"

// Fixed in-character reply texts. User-visible failures always come from
// this set; raw error detail stays in the logs and the telemetry sink.
const (
	emptyInputReply = "I received an empty message. Please tell me what you would like to discuss."

	imageRedirectReply = "It sounds like you would like an image. Please use the `/image` command followed by a description, for example `/image a cat painting a landscape`."

	genericErrorReply = "I appear to be experiencing a malfunction in my positronic relays. Please try again in a moment."

	contentPolicyReply = "My response to that request was withheld by content policy. Perhaps we could approach the topic differently."
)

// imageRequestPattern catches image-generation requests phrased in natural
// language so they can be redirected locally, without a completion call.
var imageRequestPattern = regexp.MustCompile(`(?i)\b(draw|paint|generate|create|make)\b.{0,24}\b(image|picture|photo|drawing|illustration)\b`)
