package domain

// GrammarPoint is a single Japanese grammar pattern with its explanation.
type GrammarPoint struct {
	ID       string    `json:"id" yaml:"id"`
	Level    string    `json:"level" yaml:"level"`
	Usage    string    `json:"usage" yaml:"usage"`
	Meaning  string    `json:"meaning" yaml:"meaning"`
	Context  string    `json:"context" yaml:"context"`
	Tags     []string  `json:"tags" yaml:"tags"`
	Notes    string    `json:"notes" yaml:"notes"`
	Nuance   string    `json:"nuance" yaml:"nuance"`
	Examples []Example `json:"examples" yaml:"examples"`
}

// Example pairs a Japanese sentence with its English translation.
type Example struct {
	Japanese string `json:"japanese" yaml:"japanese"`
	English  string `json:"english" yaml:"english"`
}
