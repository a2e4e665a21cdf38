package permission

import (
	"errors"
	"reflect"
	"strings"
)

// TagKey is the struct tag that marks admin-only fields: `access:"admin"`.
const TagKey = "access"

const adminTag = "admin"

// ErrUnsupportedPayload is returned by Redact for values it cannot edit in place.
var ErrUnsupportedPayload = errors.New("payload must be a pointer to a struct or a Payload")

// Payload pairs a decoded request body with the struct type that describes
// it. Keys are matched against the schema's json names.
type Payload struct {
	Body   map[string]any
	Schema any
}

// Redact clears every admin-only field of payload in place and returns the
// names it cleared.
func Redact(payload any) ([]string, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case Payload:
		return redactMap(p)
	case *Payload:
		if p == nil {
			return nil, nil
		}
		return redactMap(*p)
	}

	v := reflect.ValueOf(payload)
	if v.Kind() != reflect.Pointer || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return nil, ErrUnsupportedPayload
	}
	var cleared []string
	redactStruct(v.Elem(), &cleared)
	return cleared, nil
}

// AdminFields lists the json names of admin-only fields of schema.
func AdminFields(schema any) []string {
	t := reflect.TypeOf(schema)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil
	}
	var out []string
	collectAdmin(t, &out)
	return out
}

func redactMap(p Payload) ([]string, error) {
	if p.Body == nil {
		return nil, nil
	}
	t := reflect.TypeOf(p.Schema)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil || t.Kind() != reflect.Struct {
		return nil, ErrUnsupportedPayload
	}

	var cleared []string
	for _, name := range AdminFields(p.Schema) {
		if _, ok := p.Body[name]; ok {
			delete(p.Body, name)
			cleared = append(cleared, name)
		}
	}
	return cleared, nil
}

func redactStruct(v reflect.Value, cleared *[]string) {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		fv := v.Field(i)
		if !field.IsExported() {
			continue
		}
		if field.Anonymous && fv.Kind() == reflect.Struct {
			redactStruct(fv, cleared)
			continue
		}
		if !isAdmin(field) || !fv.CanSet() {
			continue
		}
		if !fv.IsZero() {
			*cleared = append(*cleared, jsonName(field))
		}
		fv.Set(reflect.Zero(field.Type))
	}
}

func collectAdmin(t reflect.Type, out *[]string) {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			collectAdmin(field.Type, out)
			continue
		}
		if isAdmin(field) {
			*out = append(*out, jsonName(field))
		}
	}
}

func isAdmin(field reflect.StructField) bool {
	for _, opt := range strings.Split(field.Tag.Get(TagKey), ",") {
		if strings.TrimSpace(opt) == adminTag {
			return true
		}
	}
	return false
}

func jsonName(field reflect.StructField) string {
	tag := field.Tag.Get("json")
	if name, _, _ := strings.Cut(tag, ","); name != "" && name != "-" {
		return name
	}
	return field.Name
}
