package lambdatransport

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	"github.com/aws/aws-lambda-go/events"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/app"
	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/transport/rundto"
)

type Handler struct {
	svc app.RunService
}

func NewHandler(svc app.RunService) *Handler {
	return &Handler{svc: svc}
}

// Handle routes API Gateway v2 requests: GET /health, anything else is a run.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	if req.RawPath == "/health" {
		return jsonResp(http.StatusOK, h.svc.Health()), nil
	}
	return h.Run(ctx, req)
}

func (h *Handler) Run(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	body, err := readBody(req)
	if err != nil {
		return jsonResp(http.StatusBadRequest, map[string]any{"error": "invalid body", "details": err.Error()}), nil
	}

	var in rundto.RunRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return jsonResp(http.StatusBadRequest, map[string]any{"error": "invalid json", "details": err.Error()}), nil
	}

	res, err := h.svc.Run(ctx, in.ToApp())
	if err != nil {
		status, body := rundto.ErrorBody(err)
		return jsonResp(status, body), nil
	}
	return jsonResp(http.StatusOK, rundto.FromResult(res)), nil
}

func readBody(req events.APIGatewayV2HTTPRequest) ([]byte, error) {
	if req.IsBase64Encoded {
		return base64.StdEncoding.DecodeString(req.Body)
	}
	return []byte(req.Body), nil
}

func jsonResp(status int, body any) events.APIGatewayV2HTTPResponse {
	b, _ := json.Marshal(body)
	return events.APIGatewayV2HTTPResponse{
		StatusCode: status,
		Headers:    map[string]string{"content-type": "application/json"},
		Body:       string(b),
	}
}
