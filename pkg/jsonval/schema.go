package jsonval

import (
	"github.com/skiff-ai/skiff/pkg/errors"
)

// schema-lite: the subset of JSON Schema the runtime enforces on tool
// arguments. Top-level only; nested schemas are passed through untouched.

var schemaKinds = map[string]Kind{
	"string":  KindString,
	"number":  KindNumber,
	"boolean": KindBool,
	"object":  KindObject,
	"array":   KindArray,
}

// ValidateArgs checks args against an object-typed parameters schema.
// It accepts when (a) args is an object, (b) every key under "required"
// is present, and (c) each present property whose schema declares a type
// matches that type. Unknown keys pass. Unknown declared types and
// non-object root schemas are refused as unsupported.
func ValidateArgs(schema, args Value) error {
	if schema.Kind() != KindObject {
		return errors.Unsupported("tool schema must be an object")
	}
	rootType, ok := schema.Get("type")
	if !ok {
		return errors.Unsupported("tool schema has no type")
	}
	if s, _ := rootType.AsString(); s != "object" {
		return errors.Unsupportedf("tool schema root type %q is not object", describeType(rootType))
	}

	if args.Kind() != KindObject {
		return errors.Decodingf("arguments are %s, expected object", args.Kind())
	}

	if required, ok := schema.Get("required"); ok {
		names, isArr := required.AsArray()
		if !isArr {
			return errors.Unsupported("schema required is not an array")
		}
		for _, name := range names {
			key, isStr := name.AsString()
			if !isStr {
				return errors.Unsupported("schema required contains a non-string entry")
			}
			if _, present := args.Get(key); !present {
				return errors.Decodingf("missing required property %q", key)
			}
		}
	}

	properties, ok := schema.Get("properties")
	if !ok {
		return nil
	}
	props, isObj := properties.AsObject()
	if !isObj {
		return errors.Unsupported("schema properties is not an object")
	}
	for key, propSchema := range props {
		arg, present := args.Get(key)
		if !present {
			continue
		}
		declared, hasType := propSchema.Get("type")
		if !hasType {
			continue
		}
		typeName, isStr := declared.AsString()
		if !isStr {
			return errors.Unsupportedf("property %q declares a non-string type", key)
		}
		want, known := schemaKinds[typeName]
		if !known {
			return errors.Unsupportedf("property %q has unsupported type %q", key, typeName)
		}
		if arg.Kind() != want {
			return errors.Decodingf("property %q is %s, expected %s", key, arg.Kind(), typeName)
		}
	}
	return nil
}

func describeType(v Value) string {
	if s, ok := v.AsString(); ok {
		return s
	}
	return v.Kind().String()
}
