package loam

// PromptMetadata is the frontmatter of a prompt document.
// It uses "mapstructure" tags to match standard Frontmatter/YAML keys.
type PromptMetadata struct {
	// Agent names the decision agent the template overrides.
	// When empty, the document ID (without extension) is used.
	Agent       string `json:"agent" mapstructure:"agent"`
	Description string `json:"description,omitempty" mapstructure:"description"`
	// Disabled keeps the document in the library without overriding the built-in prompt.
	Disabled bool `json:"disabled,omitempty" mapstructure:"disabled"`
}
