package translator

// schemaFields are the JSON-schema keys the upstream accepts in function
// declarations; everything else is stripped before sending.
var schemaFields = map[string]bool{
	"type":        true,
	"properties":  true,
	"required":    true,
	"enum":        true,
	"items":       true,
	"description": true,
	"format":      true,
	"minimum":     true,
	"maximum":     true,
	"minItems":    true,
	"maxItems":    true,
	"nullable":    true,
}

// cleanSchema strips unsupported JSON-schema fields recursively.
func cleanSchema(schema map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(schema))
	for key, val := range schema {
		if !schemaFields[key] {
			continue
		}
		switch key {
		case "properties":
			props, ok := val.(map[string]interface{})
			if !ok {
				continue
			}
			cleaned := make(map[string]interface{}, len(props))
			for name, sub := range props {
				if m, ok := sub.(map[string]interface{}); ok {
					cleaned[name] = cleanSchema(m)
				} else {
					cleaned[name] = sub
				}
			}
			out[key] = cleaned
		case "items":
			if m, ok := val.(map[string]interface{}); ok {
				out[key] = cleanSchema(m)
			} else {
				out[key] = val
			}
		default:
			out[key] = val
		}
	}
	return out
}
