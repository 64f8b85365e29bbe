package endpoint

import (
	"context"
	"errors"

	"github.com/go-kit/kit/endpoint"

	"github.com/lantuyan/crawler-f1-sub000/pkg/service"
)

// Endpoints holds all Go-Kit endpoints.
type Endpoints struct {
	StartCrawl   endpoint.Endpoint
	StopCrawl    endpoint.Endpoint
	GetStats     endpoint.Endpoint
	Reconcile    endpoint.Endpoint
	ListProfiles endpoint.Endpoint
	GetProfile   endpoint.Endpoint
	CheckHealth  endpoint.Endpoint
}

// MakeEndpoints creates endpoints for the control and health services.
func MakeEndpoints(s service.Service, h service.HealthService) Endpoints {
	return Endpoints{
		StartCrawl:   makeStartCrawlEndpoint(s),
		StopCrawl:    makeStopCrawlEndpoint(s),
		GetStats:     makeGetStatsEndpoint(s),
		Reconcile:    makeReconcileEndpoint(s),
		ListProfiles: makeListProfilesEndpoint(s),
		GetProfile:   makeGetProfileEndpoint(s),
		CheckHealth:  makeCheckHealthEndpoint(h),
	}
}

func makeStartCrawlEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(service.StartCrawlRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}
		return s.StartCrawl(ctx, req)
	}
}

func makeStopCrawlEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		return s.StopCrawl(ctx)
	}
}

func makeGetStatsEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		return s.GetStats(ctx)
	}
}

func makeReconcileEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(service.ReconcileRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}
		return s.Reconcile(ctx, req)
	}
}

func makeListProfilesEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		req, ok := request.(service.ListProfilesRequest)
		if !ok {
			return nil, errors.New("invalid request")
		}
		return s.ListProfiles(ctx, req)
	}
}

func makeGetProfileEndpoint(s service.Service) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		profileURL, ok := request.(string)
		if !ok {
			return nil, errors.New("invalid request")
		}
		return s.GetProfile(ctx, profileURL)
	}
}

func makeCheckHealthEndpoint(h service.HealthService) endpoint.Endpoint {
	return func(ctx context.Context, request interface{}) (interface{}, error) {
		return h.CheckHealth(ctx), nil
	}
}
