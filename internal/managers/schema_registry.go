package managers

import (
	"fmt"
	"strings"
	"sync"

	"github.com/foldstream/foldstream/internal/domain"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// OperationSchemaRegistry holds one compiled JSON schema per operation name.
// Dispatch refuses payloads for operation names it has no schema for.
type OperationSchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*jsonschema.Schema
}

func NewOperationSchemaRegistry() *OperationSchemaRegistry {
	return &OperationSchemaRegistry{
		schemas: make(map[string]*jsonschema.Schema),
	}
}

func (r *OperationSchemaRegistry) RegisterSchema(operationName string, schemaJSON string) error {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(operationName+".json", strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("failed to add schema resource for %s: %w", operationName, err)
	}

	schema, err := compiler.Compile(operationName + ".json")
	if err != nil {
		return fmt.Errorf("failed to compile schema for %s: %w", operationName, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[operationName] = schema

	return nil
}

// Validate checks operation data against the schema registered for the
// operation name. Violations surface as OperationInvalid.
func (r *OperationSchemaRegistry) Validate(operationName string, data map[string]any) error {
	r.mu.RLock()
	schema, ok := r.schemas[operationName]
	r.mu.RUnlock()

	if !ok {
		return domain.NewOperationInvalidError("unknown operation name %s", operationName)
	}

	if err := schema.Validate(toSchemaValue(data)); err != nil {
		return domain.NewOperationInvalidError("operation data does not match schema for %s: %v", operationName, err)
	}

	return nil
}

// toSchemaValue normalizes the payload to the interface shapes the schema
// validator expects.
func toSchemaValue(data map[string]any) any {
	if data == nil {
		return map[string]any{}
	}
	return data
}
