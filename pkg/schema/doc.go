// Package schema checks the shape of decoded JSON objects before they are
// mapped onto Go types.
//
// Agent replies are decoded into map[string]any first; a Schema lists the
// keys that must be present and the JSON type each one carries:
//
//	s := schema.Schema{
//	    "target":     schema.String(),
//	    "algorithms": schema.Slice(schema.String()),
//	}
//	if err := schema.Validate(s, payload); err != nil {
//	    // every failing key is reported, sorted by key
//	}
package schema
