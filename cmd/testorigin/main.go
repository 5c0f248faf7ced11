// Command testorigin runs a sample tool-server origin for manual end-to-end
// runs against the gateway. Register it in the directory with kind
// tool_server and point originAddress at /mcp.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

type GetWeatherInput struct {
	Location string `json:"location" jsonschema:"the city or location to get weather for"`
}

type GetWeatherOutput struct {
	Location    string  `json:"location"`
	Temperature float64 `json:"temperature"`
	Conditions  string  `json:"conditions"`
	Unit        string  `json:"unit"`
}

func getWeather(ctx context.Context, req *mcp.CallToolRequest, input GetWeatherInput) (*mcp.CallToolResult, GetWeatherOutput, error) {
	// Simulated weather data
	return nil, GetWeatherOutput{
		Location:    input.Location,
		Temperature: 72.5,
		Conditions:  "Partly cloudy",
		Unit:        "fahrenheit",
	}, nil
}

type GetForecastInput struct {
	Location string `json:"location" jsonschema:"the city or location to get the forecast for"`
	Days     int    `json:"days" jsonschema:"number of days to forecast"`
}

type GetForecastOutput struct {
	Location string   `json:"location"`
	Days     []string `json:"days"`
}

func getForecast(ctx context.Context, req *mcp.CallToolRequest, input GetForecastInput) (*mcp.CallToolResult, GetForecastOutput, error) {
	days := input.Days
	if days <= 0 {
		days = 3
	}
	out := GetForecastOutput{Location: input.Location}
	for i := 0; i < days; i++ {
		out.Days = append(out.Days, fmt.Sprintf("Day %d: sunny, high 70s", i+1))
	}
	return nil, out, nil
}

func createServer() *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{
		Name:    "test-origin",
		Version: "0.1.0",
	}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_weather",
		Description: "Get current weather for a location",
	}, getWeather)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_forecast",
		Description: "Get a multi-day forecast for a location",
	}, getForecast)

	return server
}

func main() {
	r := gin.Default()

	handler := mcp.NewStreamableHTTPHandler(func(req *http.Request) *mcp.Server {
		return createServer()
	}, nil)
	r.Any("/mcp", gin.WrapH(handler))
	r.Any("/mcp/*path", gin.WrapH(http.StripPrefix("/mcp", handler)))

	addr := os.Getenv("TEST_ORIGIN_ADDR")
	if addr == "" {
		addr = ":8090"
	}
	r.Run(addr)
}
