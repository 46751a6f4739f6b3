package pull_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"dataspace.app/orchestrator/internal/pull"
)

type streamServer struct {
	*httptest.Server
	lines  chan string
	finish chan struct{}
	once   sync.Once

	mu      sync.Mutex
	path    string
	auth    string
	accept  string
	status  int
	arrived chan struct{}
}

func newStreamServer(status int) *streamServer {
	s := &streamServer{
		lines:   make(chan string, 16),
		finish:  make(chan struct{}),
		status:  status,
		arrived: make(chan struct{}, 1),
	}
	s.Server = httptest.NewServer(http.HandlerFunc(s.serve))
	return s
}

func (s *streamServer) serve(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.path = r.URL.Path
	s.auth = r.Header.Get("Authorization")
	s.accept = r.Header.Get("Accept")
	s.mu.Unlock()

	select {
	case s.arrived <- struct{}{}:
	default:
	}

	if s.status != http.StatusOK {
		w.WriteHeader(s.status)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	flusher := w.(http.Flusher)
	flusher.Flush()

	for {
		select {
		case line := <-s.lines:
			fmt.Fprintf(w, "%s\n", line)
			flusher.Flush()
		case <-s.finish:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *streamServer) send(lines ...string) {
	for _, l := range lines {
		s.lines <- l
	}
}

func (s *streamServer) end() {
	s.once.Do(func() { close(s.finish) })
}

func (s *streamServer) shutdown() {
	s.end()
	s.Close()
}

func credentialLine(transferID, authCode, endpoint string) string {
	return fmt.Sprintf(`data: {"transfer_process_id":%q,"auth_code":%q,"endpoint":%q}`, transferID, authCode, endpoint)
}

var _ = Describe("Receiver", func() {
	var (
		ctx      context.Context
		server   *streamServer
		receiver *pull.Receiver
		listenCh chan error
	)

	listen := func(host string) {
		listenCh = make(chan error, 1)
		go func() {
			listenCh <- receiver.Listen(ctx, host)
		}()
		Eventually(server.arrived).Should(Receive())
	}

	BeforeEach(func() {
		ctx = context.Background()
		server = newStreamServer(http.StatusOK)
		receiver = pull.NewReceiver(server.URL+"/", "pull-api-key")
	})

	AfterEach(func() {
		receiver.Stop()
		server.shutdown()
	})

	Describe("Listen", func() {
		It("connects to the provider stream with bearer auth", func() {
			listen("https://dss_connector:19194/protocol")

			server.mu.Lock()
			defer server.mu.Unlock()
			Expect(server.path).To(Equal("/pull/stream/provider/dss_connector"))
			Expect(server.auth).To(Equal("Bearer pull-api-key"))
			Expect(server.accept).To(Equal("text/event-stream"))
		})

		It("returns nil after Stop", func() {
			listen("dss_connector:19194")

			receiver.Stop()

			Eventually(listenCh).Should(Receive(BeNil()))
		})

		It("returns nil when the context is cancelled", func() {
			var cancel context.CancelFunc
			ctx, cancel = context.WithCancel(ctx)
			listen("dss_connector")

			cancel()

			Eventually(listenCh).Should(Receive(BeNil()))
		})

		It("reports the server closing the stream as a stream failure", func() {
			listen("dss_connector")

			server.end()

			var err error
			Eventually(listenCh).Should(Receive(&err))
			Expect(errors.Is(err, pull.ErrStreamFailed)).To(BeTrue())
		})

		It("keeps listening past malformed lines", func() {
			listen("dss_connector")

			server.send(
				"event: ping",
				"data: ready",
				"data: {not json",
				`data: {"auth_code":"no-id"}`,
				credentialLine("tx1", "tok1", "http://x/f1/jobs"),
			)

			rec, err := receiver.Await(ctx, "tx1", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.AuthCode).To(Equal("tok1"))
			Expect(rec.Endpoint).To(Equal("http://x/f1/jobs"))
			Consistently(listenCh, 100*time.Millisecond).ShouldNot(Receive())
		})

		It("keeps the latest record for a repeated transfer id", func() {
			listen("dss_connector")

			server.send(
				credentialLine("tx1", "first", "http://x/f1/jobs"),
				credentialLine("tx1", "second", "http://x/f1/jobs"),
				credentialLine("marker", "m", "http://x"),
			)

			_, err := receiver.Await(ctx, "marker", 5*time.Second)
			Expect(err).NotTo(HaveOccurred())

			rec, err := receiver.Await(ctx, "tx1", time.Second)
			Expect(err).NotTo(HaveOccurred())
			Expect(rec.AuthCode).To(Equal("second"))
		})

		Context("when the backend rejects the request", func() {
			BeforeEach(func() {
				server.shutdown()
				server = newStreamServer(http.StatusUnauthorized)
				receiver = pull.NewReceiver(server.URL, "wrong")
			})

			It("returns a stream failure", func() {
				err := receiver.Listen(ctx, "dss_connector")
				Expect(errors.Is(err, pull.ErrStreamFailed)).To(BeTrue())
				Expect(err.Error()).To(ContainSubstring("401"))
			})
		})
	})

	Describe("Await", func() {
		It("wakes a waiter registered before delivery", func() {
			listen("dss_connector")

			resultCh := make(chan error, 1)
			go func() {
				_, err := receiver.Await(ctx, "tx1", 5*time.Second)
				resultCh <- err
			}()
			Consistently(resultCh, 50*time.Millisecond).ShouldNot(Receive())

			server.send(credentialLine("tx1", "tok1", "http://x/f1/jobs"))

			Eventually(resultCh).Should(Receive(BeNil()))
		})

		It("returns immediately when the credential is already present", func() {
			listen("dss_connector")
			server.send(credentialLine("tx1", "tok1", "http://x/f1/jobs"))
			Eventually(func() error {
				_, err := receiver.Await(ctx, "tx1", 0)
				return err
			}).Should(Succeed())

			start := time.Now()
			rec, err := receiver.Await(ctx, "tx1", time.Hour)

			Expect(err).NotTo(HaveOccurred())
			Expect(rec.TransferProcessID).To(Equal("tx1"))
			Expect(time.Since(start)).To(BeNumerically("<", 50*time.Millisecond))
		})

		It("times out no earlier than the wait window", func() {
			window := 150 * time.Millisecond
			start := time.Now()

			_, err := receiver.Await(ctx, "missing", window)

			Expect(time.Since(start)).To(BeNumerically(">=", window))
			Expect(errors.Is(err, pull.ErrCredentialTimeout)).To(BeTrue())
			var timeoutErr *pull.CredentialTimeoutError
			Expect(errors.As(err, &timeoutErr)).To(BeTrue())
			Expect(timeoutErr.TransferID).To(Equal("missing"))
		})

		It("gives up when the context is cancelled", func() {
			cctx, cancel := context.WithCancel(ctx)
			cancel()

			_, err := receiver.Await(cctx, "tx1", time.Hour)

			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
			Expect(errors.Is(err, pull.ErrCredentialTimeout)).To(BeFalse())
		})
	})

	Describe("Stop", func() {
		It("is idempotent and safe before Listen", func() {
			receiver.Stop()
			receiver.Stop()

			Expect(receiver.Stopped()).To(BeTrue())
			Expect(receiver.Listen(ctx, "dss_connector")).To(Succeed())
		})
	})
})
