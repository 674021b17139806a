// Package codec provides the payload codecs used to marshal protocol message
// bodies and model inputs/outputs.
package codec

import "strings"

// Codec marshals typed values into payload bytes. Implementations must be
// deterministic and safe to share across goroutines.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// Registry maps content types to codecs.
type Registry struct{ byType map[string]Codec }

// NewRegistry constructs a registry preloaded with the built-in codecs that
// need no initialization: JSON and Protobuf. CBOR has a fallible constructor
// and is added by the caller via Register.
func NewRegistry() *Registry {
	r := &Registry{byType: make(map[string]Codec)}
	r.Register(JSON())
	r.Register(Proto())
	return r
}

// Register adds a codec, replacing any previous one for the same content type.
func (r *Registry) Register(c Codec) { r.byType[c.ContentType()] = c }

// Get returns the codec for a content type, or nil.
func (r *Registry) Get(contentType string) Codec { return r.byType[contentType] }

// ForSchemaTag resolves the payload codec implied by a capability schema tag.
// Tags use a `name.version+format` convention (e.g. "tabular.v1+cbor"); a tag
// without a format suffix means JSON.
func (r *Registry) ForSchemaTag(tag string) Codec {
	if i := strings.LastIndexByte(tag, '+'); i >= 0 {
		switch strings.ToLower(tag[i+1:]) {
		case "cbor":
			return r.Get("application/cbor")
		case "proto", "protobuf":
			return r.Get("application/x-protobuf")
		case "json":
			return r.Get("application/json")
		}
	}
	return r.Get("application/json")
}
