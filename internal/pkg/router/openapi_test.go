package router

import (
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const openAPIPath = "../../../public/docs/v1/openapi.yml"

func TestOpenAPIDocumentIsValid(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIPath)
	require.NoError(t, err)
	require.NoError(t, doc.Validate(loader.Context))
}

func TestOpenAPIDocumentsEveryAPIRoute(t *testing.T) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromFile(openAPIPath)
	require.NoError(t, err)

	app := newTestApp(Dependencies{})
	for _, route := range app.GetRoutes(true) {
		if !strings.HasPrefix(route.Path, "/api/subscriptions") || route.Method == fiber.MethodHead {
			continue
		}
		item := doc.Paths.Find(route.Path)
		if !assert.NotNil(t, item, "undocumented path %s", route.Path) {
			continue
		}
		assert.NotNil(t, item.GetOperation(route.Method), "undocumented operation %s %s", route.Method, route.Path)
	}
}
