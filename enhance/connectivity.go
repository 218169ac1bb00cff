package enhance

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/penwatch/connectivity"
)

// ServiceName is the connectivity service that runs an enhancement.
const ServiceName = "penwatch_enhance"

type enhanceRequest struct {
	Prompt string `json:"prompt"`
}

type enhanceResponse struct {
	Text  string `json:"text"`
	Model string `json:"model"`
}

// RegisterConnectivity registers enh on a connectivity Router, wrapped in mws.
//
// Registered services:
//
//	penwatch_enhance: {"prompt"} → {"text", "model"}
func RegisterConnectivity(router *connectivity.Router, enh Enhancer, mws ...connectivity.HandlerMiddleware) {
	router.RegisterLocal(ServiceName, connectivity.Chain(mws...)(handleEnhance(enh)))
}

func handleEnhance(enh Enhancer) connectivity.Handler {
	return func(ctx context.Context, payload []byte) ([]byte, error) {
		var req enhanceRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			return nil, fmt.Errorf("decode: %w", err)
		}
		text, err := enh.Enhance(ctx, req.Prompt)
		if err != nil {
			return nil, err
		}
		return json.Marshal(enhanceResponse{Text: text, Model: enh.Model()})
	}
}

// Routed returns an Enhancer that goes through the router, so the routes
// table can move enhancement to a remote worker. local answers Ready and
// Model while the service is served in-process.
func Routed(router *connectivity.Router, local Enhancer) Enhancer {
	return &routedEnhancer{router: router, local: local}
}

type routedEnhancer struct {
	router *connectivity.Router
	local  Enhancer
}

func (r *routedEnhancer) remote() bool {
	info, ok := r.router.Inspect(ServiceName)
	// A broken route falls through to the local handler.
	return ok && info.Strategy != "local" && info.Error == ""
}

func (r *routedEnhancer) Ready() error {
	if r.remote() {
		return nil
	}
	return r.local.Ready()
}

func (r *routedEnhancer) Model() string {
	if r.remote() {
		return "routed"
	}
	return r.local.Model()
}

func (r *routedEnhancer) Enhance(ctx context.Context, prompt string) (string, error) {
	payload, err := json.Marshal(enhanceRequest{Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("enhance: marshal: %w", err)
	}
	out, err := r.router.Call(ctx, ServiceName, payload)
	if err != nil {
		return "", err
	}
	if out == nil {
		return "", fmt.Errorf("enhance: %s is disabled", ServiceName)
	}
	var resp enhanceResponse
	if err := json.Unmarshal(out, &resp); err != nil {
		return "", fmt.Errorf("enhance: decode routed response: %w", err)
	}
	return resp.Text, nil
}
