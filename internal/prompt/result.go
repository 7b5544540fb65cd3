package prompt

// Costar is the six-part breakdown of an engineered prompt.
type Costar struct {
	Context   string `json:"context"`
	Objective string `json:"objective"`
	Style     string `json:"style"`
	Tone      string `json:"tone"`
	Audience  string `json:"audience"`
	Response  string `json:"response"`
}

// Result is an engineered prompt as returned to callers and persisted in
// history. Costar is nil for degraded results.
type Result struct {
	RefinedPrompt      string   `json:"refinedPrompt"`
	WhyThisWorks       string   `json:"whyThisWorks"`
	SuggestedVariables []string `json:"suggestedVariables"`
	Costar             *Costar  `json:"costar,omitempty"`
	Provider           string   `json:"provider,omitempty"`
	Model              string   `json:"model,omitempty"`
	ID                 string   `json:"id,omitempty"`
}

// TitleResult is the response of the title task.
type TitleResult struct {
	Title string `json:"title"`
}
