package handler_test

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/Bernabe-03/oplaisir/internal/handler"
)

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestNewRouter_Health(t *testing.T) {
	t.Run("no_pinger", func(t *testing.T) {
		rr := doRequest(t, handler.NewRouter(nil), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())
	})

	t.Run("database_down", func(t *testing.T) {
		down := pingFunc(func(context.Context) error { return errors.New("connection refused") })
		rr := doRequest(t, handler.NewRouter(down), http.MethodGet, "/health", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	})

	t.Run("mounts_handlers", func(t *testing.T) {
		mockService := new(MockOrderService)
		mockService.On("PendingCount", mock.Anything).Return(0, nil).Once()

		router := handler.NewRouter(nil, handler.NewOrderHandler(mockService))
		rr := doRequest(t, router, http.MethodGet, "/orders/pending-count", nil)
		assert.Equal(t, http.StatusOK, rr.Code)
		mockService.AssertExpectations(t)
	})
}
