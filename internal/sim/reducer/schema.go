package reducer

import (
	"bytes"
	_ "embed"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/actions.json
var actionsSchema []byte

const actionsSchemaURL = "mem://manvsim/actions.json"

var (
	compilerOnce sync.Once
	compiler     *jsonschema.Compiler
	compilerErr  error
	compileMu    sync.Mutex
)

func schemaCompiler() (*jsonschema.Compiler, error) {
	compilerOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(actionsSchemaURL, bytes.NewReader(actionsSchema)); err != nil {
			compilerErr = err
			return
		}
		compiler = c
	})
	return compiler, compilerErr
}

// mustSchema compiles the shape of one action from the embedded schema
// document. A broken embedded document is a programming error.
func mustSchema(shape string) *jsonschema.Schema {
	c, err := schemaCompiler()
	if err != nil {
		panic(fmt.Sprintf("reducer: load action schemas: %v", err))
	}
	compileMu.Lock()
	defer compileMu.Unlock()
	s, err := c.Compile(actionsSchemaURL + "#/$defs/" + shape)
	if err != nil {
		panic(fmt.Sprintf("reducer: compile shape %s: %v", shape, err))
	}
	return s
}
