package handler_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/redis/go-redis/v9"

	"dataspace.app/orchestrator/internal/http/handler"
	"dataspace.app/orchestrator/internal/http/router"
	"dataspace.app/orchestrator/internal/model"
	"dataspace.app/orchestrator/internal/pull"
)

const pullKey = "pull-key"

func edrBody(id, endpoint string) string {
	b, _ := json.Marshal(map[string]string{
		"id":         id,
		"endpoint":   endpoint,
		"authKey":    "Authorization",
		"authCode":   "tok1",
		"contractId": "contract-1",
	})
	return string(b)
}

var _ = Describe("PullHandler", func() {
	Describe("Ingest", func() {
		var (
			r         *gin.Engine
			publisher *mockPublisher
		)

		BeforeEach(func() {
			r = gin.New()
			publisher = &mockPublisher{}
			h := handler.NewPullHandler(publisher, nil, handler.PullHandlerConfig{StreamPrefix: "pull:provider:"}, nil)
			router.PullRouter(r.Group("/pull", middlewareBearer()), h)
		})

		ingest := func(body, token string) *httptest.ResponseRecorder {
			req := httptest.NewRequest(http.MethodPost, "/pull", bytes.NewBufferString(body))
			req.Header.Set("Content-Type", "application/json")
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			return w
		}

		It("publishes the reference on the provider's stream", func() {
			w := ingest(edrBody("tx1", "http://dss_connector:19291/public/f1/jobs"), pullKey)

			Expect(w.Code).To(Equal(http.StatusOK))
			var resp map[string]string
			Expect(json.Unmarshal(w.Body.Bytes(), &resp)).To(Succeed())
			Expect(resp["stream"]).To(Equal("pull:provider:dss_connector"))

			Expect(publisher.messages).To(HaveLen(1))
			msg := publisher.messages[0]
			Expect(msg.TransferProcessID).To(Equal("tx1"))
			Expect(msg.AuthCode).To(Equal("tok1"))
			Expect(msg.ProviderHost).To(Equal("dss_connector"))
			Expect(msg.ContractID).To(Equal("contract-1"))
		})

		It("accepts transfer_process_id in place of id", func() {
			w := ingest(`{"transfer_process_id":"tx2","endpoint":"http://p:1/x","authCode":"a"}`, pullKey)

			Expect(w.Code).To(Equal(http.StatusOK))
			Expect(publisher.messages[0].TransferProcessID).To(Equal("tx2"))
		})

		It("requires a transfer id", func() {
			Expect(ingest(edrBody("", "http://p:1/x"), pullKey).Code).To(Equal(http.StatusBadRequest))
			Expect(publisher.messages).To(BeEmpty())
		})

		It("requires the bearer key", func() {
			Expect(ingest(edrBody("tx1", "http://p:1/x"), "").Code).To(Equal(http.StatusUnauthorized))
			Expect(ingest(edrBody("tx1", "http://p:1/x"), "wrong").Code).To(Equal(http.StatusUnauthorized))
		})

		It("returns 503 when the stream is unavailable", func() {
			publisher.publishFn = func(context.Context, model.PullMessage) (string, error) {
				return "", errors.New("redis down")
			}

			Expect(ingest(edrBody("tx1", "http://p:1/x"), pullKey).Code).To(Equal(http.StatusServiceUnavailable))
		})
	})

	Describe("Stream", func() {
		var (
			client *redis.Client
			server *httptest.Server
		)

		BeforeEach(func() {
			mr := miniredis.RunT(GinkgoT())
			client = redis.NewClient(&redis.Options{Addr: mr.Addr()})
			DeferCleanup(client.Close)

			r := gin.New()
			h := handler.NewPullHandler(
				pull.NewRedisPublisher(client, "pull:provider:", 100, nil),
				client,
				handler.PullHandlerConfig{StreamPrefix: "pull:provider:", Block: 50 * time.Millisecond},
				nil,
			)
			router.PullRouter(r.Group("/pull", middlewareBearer()), h)
			server = httptest.NewServer(r)
			DeferCleanup(server.Close)
		})

		publish := func(id string) {
			req, err := http.NewRequest(http.MethodPost, server.URL+"/pull", strings.NewReader(edrBody(id, "http://dss_connector:19291/public/f1/jobs")))
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Content-Type", "application/json")
			req.Header.Set("Authorization", "Bearer "+pullKey)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
		}

		It("replays stored messages as data lines and skips malformed entries", func() {
			publish("tx1")
			Expect(client.XAdd(context.Background(), &redis.XAddArgs{
				Stream: "pull:provider:dss_connector",
				Values: map[string]any{"transfer_process_id": "junk"},
			}).Err()).To(Succeed())
			publish("tx2")

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL+"/pull/stream/provider/dss_connector:19291?last_id=0", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Bearer "+pullKey)

			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal("text/event-stream"))

			var ids []string
			scanner := bufio.NewScanner(resp.Body)
			for len(ids) < 2 && scanner.Scan() {
				data, ok := strings.CutPrefix(scanner.Text(), "data: ")
				if !ok {
					continue
				}
				rec, err := model.ParseCredentialRecord([]byte(data))
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, rec.TransferProcessID)
			}
			Expect(ids).To(Equal([]string{"tx1", "tx2"}))
		})

		It("keeps messages published between idle reads", func() {
			publisher := pull.NewRedisPublisher(client, "pull:provider:", 100, nil)
			message := func(id string) model.PullMessage {
				return model.PullMessage{
					TransferProcessID: id,
					AuthCode:          "tok1",
					Endpoint:          "http://dss_connector:19291/public/f1/jobs",
					ProviderHost:      "dss_connector",
				}
			}
			_, err := publisher.Publish(context.Background(), message("before-open"))
			Expect(err).NotTo(HaveOccurred())

			r := gin.New()
			h := handler.NewPullHandler(publisher, client,
				handler.PullHandlerConfig{StreamPrefix: "pull:provider:", Block: time.Millisecond}, nil)
			router.PullRouter(r.Group("/pull", middlewareBearer()), h)
			idle := httptest.NewServer(r)
			DeferCleanup(idle.Close)

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, idle.URL+"/pull/stream/provider/dss_connector", nil)
			Expect(err).NotTo(HaveOccurred())
			req.Header.Set("Authorization", "Bearer "+pullKey)
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()

			scanner := bufio.NewScanner(resp.Body)
			pings := 0
			for pings < 3 && scanner.Scan() {
				if strings.HasPrefix(scanner.Text(), ": ping") {
					pings++
				}
			}

			const total = 20
			go func() {
				defer GinkgoRecover()
				for i := range total {
					_, err := publisher.Publish(context.Background(), message(fmt.Sprintf("tx%d", i)))
					Expect(err).NotTo(HaveOccurred())
					time.Sleep(2 * time.Millisecond)
				}
			}()

			var ids []string
			for len(ids) < total && scanner.Scan() {
				data, ok := strings.CutPrefix(scanner.Text(), "data: ")
				if !ok {
					continue
				}
				rec, err := model.ParseCredentialRecord([]byte(data))
				Expect(err).NotTo(HaveOccurred())
				ids = append(ids, rec.TransferProcessID)
			}
			Expect(ids).To(HaveLen(total))
			Expect(ids[0]).To(Equal("tx0"))
			Expect(ids[total-1]).To(Equal(fmt.Sprintf("tx%d", total-1)))
		})

		It("delivers credentials to a receiver", func() {
			receiver := pull.NewReceiver(server.URL, pullKey)
			listenErr := make(chan error, 1)
			go func() {
				listenErr <- receiver.Listen(context.Background(), "dss_connector")
			}()
			DeferCleanup(func() {
				receiver.Stop()
				Eventually(listenErr).Should(Receive(BeNil()))
			})

			// New messages only, so keep publishing until the receiver has subscribed.
			Eventually(func() error {
				publish("tx1")
				_, err := receiver.Await(context.Background(), "tx1", 100*time.Millisecond)
				return err
			}).WithTimeout(5 * time.Second).Should(Succeed())

			rec, err := receiver.Await(context.Background(), "tx1", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.AuthCode).To(Equal("tok1"))
			Expect(rec.Endpoint).To(Equal("http://dss_connector:19291/public/f1/jobs"))
		})

		It("rejects readers without the key", func() {
			resp, err := http.Get(server.URL + "/pull/stream/provider/dss_connector")
			Expect(err).NotTo(HaveOccurred())
			resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
		})
	})
})
