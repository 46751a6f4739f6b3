package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"

	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dataspace.app/orchestrator/internal/http/handler"
	"dataspace.app/orchestrator/internal/model"
	"dataspace.app/orchestrator/internal/service"
	"dataspace.app/orchestrator/internal/store"
)

var _ = Describe("ToolRequestHandler", func() {
	var (
		router *gin.Engine
		svc    *mockToolRequestService
	)

	BeforeEach(func() {
		router = gin.New()
		svc = &mockToolRequestService{}
		h := handler.NewToolRequestHandler(svc)

		router.POST("/f1/request-tool", h.Submit)
		router.GET("/f1/requests", h.List)
		router.GET("/f1/requests/:request_id", h.Get)
	})

	post := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/f1/request-tool", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	Describe("Submit", func() {
		It("returns the initiated request", func() {
			svc.submitFn = func(_ context.Context, req service.ToolRequest) (model.RequestRecord, error) {
				return model.RequestRecord{
					ID:               "req_20261019_101500_u1_abc",
					Status:           model.RequestStatusInitiated,
					BuildingID:       req.BuildingID,
					OptimizationType: "energy_efficiency",
				}, nil
			}

			w := post(`{"user_id":"u1","building_id":"b1"}`)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["request_id"]).To(Equal("req_20261019_101500_u1_abc"))
			Expect(resp["status"]).To(Equal("initiated"))
			Expect(resp["message"]).To(ContainSubstring("building b1"))
			Expect(svc.lastSubmit.UserID).To(Equal("u1"))
		})

		It("returns 400 without a user id", func() {
			w := post(`{"building_id":"b1"}`)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 400 for invalid JSON", func() {
			w := post(`{not json`)

			Expect(w.Code).To(Equal(http.StatusBadRequest))
		})

		It("returns 503 when the request cannot be scheduled", func() {
			svc.submitFn = func(context.Context, service.ToolRequest) (model.RequestRecord, error) {
				return model.RequestRecord{}, fmt.Errorf("%w: queue full", service.ErrDispatchUnavailable)
			}

			w := post(`{"user_id":"u1"}`)

			Expect(w.Code).To(Equal(http.StatusServiceUnavailable))
		})

		It("returns 500 on ledger errors", func() {
			svc.submitFn = func(context.Context, service.ToolRequest) (model.RequestRecord, error) {
				return model.RequestRecord{}, errors.New("connection refused")
			}

			w := post(`{"user_id":"u1"}`)

			Expect(w.Code).To(Equal(http.StatusInternalServerError))
			Expect(w.Body.String()).NotTo(ContainSubstring("connection refused"))
		})
	})

	Describe("Get", func() {
		It("returns the ledger record", func() {
			jobID := "j1"
			svc.getFn = func(_ context.Context, id string) (model.RequestRecord, error) {
				return model.RequestRecord{
					ID:       id,
					UserID:   "u1",
					Status:   model.RequestStatusCompleted,
					DSSJobID: &jobID,
					Result:   json.RawMessage(`{"energy_savings_kwh":245.8}`),
				}, nil
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/f1/requests/req_1", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]any
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["request_id"]).To(Equal("req_1"))
			Expect(resp["dss_job_id"]).To(Equal("j1"))
			Expect(resp["dss_result"]).To(HaveKeyWithValue("energy_savings_kwh", 245.8))
		})

		It("returns 404 for an unknown request", func() {
			svc.getFn = func(context.Context, string) (model.RequestRecord, error) {
				return model.RequestRecord{}, store.ErrNotFound
			}

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/f1/requests/missing", nil))

			Expect(w.Code).To(Equal(http.StatusNotFound))
		})
	})

	Describe("List", func() {
		It("returns an empty list rather than null", func() {
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/f1/requests", nil))

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(w.Body.String()).To(MatchJSON(`{"requests":[]}`))
		})
	})
})
