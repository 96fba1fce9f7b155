package openai

import "github.com/sashabaranov/go-openai/jsonschema"

// reportSchema is the strict JSON schema of the final report.
var reportSchema = jsonschema.Definition{
	Type:                 jsonschema.Object,
	AdditionalProperties: false,
	Required:             []string{"summary", "issues"},
	Properties: map[string]jsonschema.Definition{
		"summary": {
			Type:        jsonschema.String,
			Description: "Short narrative of the overall security posture.",
		},
		"issues": {
			Type: jsonschema.Array,
			Items: &jsonschema.Definition{
				Type:                 jsonschema.Object,
				AdditionalProperties: false,
				Required:             []string{"title", "description", "code", "fix", "cvss_score", "severity"},
				Properties: map[string]jsonschema.Definition{
					"title":       {Type: jsonschema.String},
					"description": {Type: jsonschema.String},
					"code":        {Type: jsonschema.String, Description: "Vulnerable lines quoted exactly from the input."},
					"fix":         {Type: jsonschema.String},
					"cvss_score":  {Type: jsonschema.Number, Description: "CVSS v3 base score, 0.0 to 10.0."},
					"severity": {
						Type: jsonschema.String,
						Enum: []string{"critical", "high", "medium", "low"},
					},
				},
			},
		},
	},
}
