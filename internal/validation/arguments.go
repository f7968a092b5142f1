package validation

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var identiconSeedPattern = regexp.MustCompile(`^v[0-9]+:.+$`)

// CheckIdenticonSeed reports an error for seeds that are not of the form
// "v<version>:<anything>". An empty seed is allowed.
func CheckIdenticonSeed(seed string) *Error {
	if seed == "" || identiconSeedPattern.MatchString(seed) {
		return nil
	}
	return FieldError("identicon_seed", "Invalid identicon seed")
}

// SchemaValidator compiles action argument schemas and caches them by
// content hash.
type SchemaValidator struct {
	mu    sync.Mutex
	cache map[string]*jsonschema.Schema
}

// NewSchemaValidator returns a validator with an empty cache.
func NewSchemaValidator() *SchemaValidator {
	return &SchemaValidator{cache: make(map[string]*jsonschema.Schema)}
}

// ValidateArguments checks args against schema. Failures are reported
// under "arguments.<path>" using the instance location of each leaf cause.
func (v *SchemaValidator) ValidateArguments(schema, args []byte) (*Error, error) {
	compiled, err := v.compile(schema)
	if err != nil {
		return nil, err
	}

	if len(bytes.TrimSpace(args)) == 0 {
		args = []byte("{}")
	}
	var doc any
	dec := json.NewDecoder(bytes.NewReader(args))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return FieldError("arguments", "Value must be valid JSON."), nil
	}

	err = compiled.Validate(doc)
	if err == nil {
		return nil, nil
	}

	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return nil, fmt.Errorf("validate arguments: %w", err)
	}

	result := NewError()
	collectCauses(result, verr)
	return result, nil
}

func (v *SchemaValidator) compile(schema []byte) (*jsonschema.Schema, error) {
	sum := sha256.Sum256(schema)
	key := hex.EncodeToString(sum[:])

	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.cache[key]; ok {
		return s, nil
	}

	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft4
	url := fmt.Sprintf("https://normandy.schemas.local/actions/%s.json", key)
	if err := c.AddResource(url, bytes.NewReader(schema)); err != nil {
		return nil, fmt.Errorf("load arguments schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile arguments schema: %w", err)
	}
	v.cache[key] = compiled
	return compiled, nil
}

func collectCauses(result *Error, verr *jsonschema.ValidationError) {
	if len(verr.Causes) == 0 {
		result.Add(instancePath(verr.InstanceLocation), verr.Message)
		return
	}
	for _, cause := range verr.Causes {
		collectCauses(result, cause)
	}
}

// instancePath turns a JSON pointer such as "/branches/0/slug" into
// "arguments.branches.0.slug".
func instancePath(pointer string) string {
	pointer = strings.TrimPrefix(pointer, "/")
	if pointer == "" {
		return "arguments"
	}
	segments := strings.Split(pointer, "/")
	for i, s := range segments {
		s = strings.ReplaceAll(s, "~1", "/")
		segments[i] = strings.ReplaceAll(s, "~0", "~")
	}
	return "arguments." + strings.Join(segments, ".")
}
