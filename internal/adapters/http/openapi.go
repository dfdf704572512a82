package http

import (
	"embed"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"gopkg.in/yaml.v3"
)

//go:embed openapi.yaml
var openAPIFS embed.FS

var getOpenAPIJSON = sync.OnceValues(func() ([]byte, error) {
	data, err := openAPIFS.ReadFile("openapi.yaml")
	if err != nil {
		return nil, err
	}
	return yamlToJSON(data)
})

// yamlToJSON converts a YAML document to indented JSON.
func yamlToJSON(data []byte) ([]byte, error) {
	var doc interface{}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing OpenAPI document: %w", err)
	}
	doc, err := jsonCompatible(doc)
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(doc, "", "  ")
}

// jsonCompatible rewrites YAML maps with non-string keys into JSON objects.
func jsonCompatible(v interface{}) (interface{}, error) {
	switch v := v.(type) {
	case map[string]interface{}:
		for key, value := range v {
			conv, err := jsonCompatible(value)
			if err != nil {
				return nil, err
			}
			v[key] = conv
		}
		return v, nil
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, value := range v {
			conv, err := jsonCompatible(value)
			if err != nil {
				return nil, err
			}
			out[fmt.Sprint(key)] = conv
		}
		return out, nil
	case []interface{}:
		for i, value := range v {
			conv, err := jsonCompatible(value)
			if err != nil {
				return nil, err
			}
			v[i] = conv
		}
		return v, nil
	default:
		return v, nil
	}
}

const swaggerUIHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>geopreview API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({ url: '/openapi.json', dom_id: '#swagger-ui' });
        };
    </script>
</body>
</html>`

// handleSwaggerUI serves a Swagger UI page for /openapi.json.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write([]byte(swaggerUIHTML))
}
