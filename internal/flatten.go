package internal

import "strconv"

// Flatten turns notification fields into a single-level map for rule
// evaluation. Nested keys are joined with "." and list elements are
// addressed as "name[i]"; the list itself stays available under its own key.
// {"data": {"labels": ["bug"]}} yields "data", "data.labels" and "data.labels[0]".
func Flatten(fields map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(fields))
	for key, value := range fields {
		flattenValue(out, key, value)
	}
	return out
}

func flattenValue(out map[string]interface{}, key string, value interface{}) {
	out[key] = value
	switch typed := value.(type) {
	case map[string]interface{}:
		for child, v := range typed {
			flattenValue(out, key+"."+child, v)
		}
	case map[string]string:
		for child, v := range typed {
			out[key+"."+child] = v
		}
	case []interface{}:
		for i, v := range typed {
			flattenValue(out, key+"["+strconv.Itoa(i)+"]", v)
		}
	case []string:
		for i, v := range typed {
			out[key+"["+strconv.Itoa(i)+"]"] = v
		}
	}
}
