package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

const (
	clientSchemaURL = "mem://manvsim/protocol/client.json"
	serverSchemaURL = "mem://manvsim/protocol/server.json"
)

var (
	schemasOnce sync.Once
	schemas     map[string]*jsonschema.Schema
	schemasErr  error
)

func loadSchemas() (map[string]*jsonschema.Schema, error) {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		for url, file := range map[string]string{
			clientSchemaURL: "schemas/client.schema.json",
			serverSchemaURL: "schemas/server.schema.json",
		} {
			b, err := schemaFS.ReadFile(file)
			if err != nil {
				schemasErr = err
				return
			}
			if err := c.AddResource(url, bytes.NewReader(b)); err != nil {
				schemasErr = err
				return
			}
		}
		out := map[string]*jsonschema.Schema{}
		for typ, url := range map[string]string{
			TypeJoinExercise:    clientSchemaURL,
			TypeProposeAction:   clientSchemaURL,
			TypeGetState:        clientSchemaURL,
			TypeGetPartialState: clientSchemaURL,
			TypeResponse:        serverSchemaURL,
			TypePerformAction:   serverSchemaURL,
		} {
			s, err := c.Compile(url + "#/$defs/" + typ)
			if err != nil {
				schemasErr = fmt.Errorf("compile %s: %w", typ, err)
				return
			}
			out[typ] = s
		}
		schemas = out
	})
	return schemas, schemasErr
}

// Validate checks one frame against the schema of its type.
func Validate(raw []byte) (BaseMessage, error) {
	base, err := DecodeBase(raw)
	if err != nil {
		return base, err
	}
	all, err := loadSchemas()
	if err != nil {
		return base, err
	}
	s, ok := all[base.Type]
	if !ok {
		return base, fmt.Errorf("unknown message type %q", base.Type)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return base, err
	}
	return base, s.Validate(doc)
}
