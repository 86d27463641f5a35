package scanning

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"
)

var _ = Describe("Ollama", func() {
	var (
		server   *ghttp.Server
		ollama   *Ollama
		received ollamaChatRequest
	)

	captureRequest := func(w http.ResponseWriter, r *http.Request) {
		Expect(json.NewDecoder(r.Body).Decode(&received)).To(Succeed())
	}

	BeforeEach(func() {
		server = ghttp.NewServer()
		ollama = NewOllama(server.URL()+"/", "llama3.1", "llava", []string{"en", "fr"})
		received = ollamaChatRequest{}
	})

	AfterEach(func() {
		server.Close()
	})

	Describe("Generate", func() {
		When("the server answers", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					ghttp.VerifyContentType("application/json"),
					captureRequest,
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
						Message: ollamaMessage{Role: "assistant", Content: `{"storeName": "Joe's"}`},
						Done:    true,
					}),
				))
			})

			It("returns the reply text", func() {
				reply, err := ollama.Generate(context.Background(), "structure this")
				Expect(err).NotTo(HaveOccurred())
				Expect(reply).To(Equal(`{"storeName": "Joe's"}`))
			})

			It("sends the prompt to the text model", func() {
				_, err := ollama.Generate(context.Background(), "structure this")
				Expect(err).NotTo(HaveOccurred())
				Expect(received.Model).To(Equal("llama3.1"))
				Expect(received.Stream).To(BeFalse())
				Expect(received.Messages).To(HaveLen(1))
				Expect(received.Messages[0].Content).To(Equal("structure this"))
			})
		})

		When("the server returns an error status", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.RespondWith(http.StatusInternalServerError, "model not loaded"))
			})

			It("returns the error", func() {
				_, err := ollama.Generate(context.Background(), "structure this")
				Expect(err).To(MatchError(ContainSubstring("status 500")))
				Expect(err).To(MatchError(ContainSubstring("model not loaded")))
			})
		})

		When("the context is already cancelled", func() {
			It("returns the error without a response", func() {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				_, err := ollama.Generate(ctx, "structure this")
				Expect(err).To(HaveOccurred())
			})
		})
	})

	Describe("RecognizeLines", func() {
		When("the image is a PNG", func() {
			BeforeEach(func() {
				server.AppendHandlers(ghttp.CombineHandlers(
					ghttp.VerifyRequest(http.MethodPost, "/api/chat"),
					captureRequest,
					ghttp.RespondWithJSONEncoded(http.StatusOK, ollamaChatResponse{
						Message: ollamaMessage{Role: "assistant", Content: `{"lines": [{"text": "Joe's Diner", "confidence": 0.8}, {"text": "Burger $8.50", "confidence": 0.9}]}`},
						Done:    true,
					}),
				))
			})

			It("returns the fragments in order", func() {
				fragments, err := ollama.RecognizeLines(context.Background(), []byte("png bytes"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(fragments).To(Equal([]Fragment{
					{Text: "Joe's Diner", Confidence: 0.8},
					{Text: "Burger $8.50", Confidence: 0.9},
				}))
			})

			It("sends the image to the vision model with the language hint", func() {
				_, err := ollama.RecognizeLines(context.Background(), []byte("png bytes"), "image/png")
				Expect(err).NotTo(HaveOccurred())
				Expect(received.Model).To(Equal("llava"))
				Expect(received.Messages).To(HaveLen(2))
				Expect(received.Messages[1].Content).To(ContainSubstring("en, fr"))
				Expect(received.Messages[1].Images).To(Equal([]string{base64.StdEncoding.EncodeToString([]byte("png bytes"))}))
			})
		})

		When("the upload is not an image", func() {
			It("returns the error without calling the server", func() {
				_, err := ollama.RecognizeLines(context.Background(), []byte("hello"), "text/plain")
				Expect(err).To(HaveOccurred())
				Expect(server.ReceivedRequests()).To(BeEmpty())
			})
		})
	})
})
