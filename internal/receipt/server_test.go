package receipt

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/onsi/gomega/ghttp"

	"github.com/zombor/receipt-scanner/internal/extraction"
)

var _ = Describe("Server", func() {
	var (
		db          *mockDB
		storage     *mockStorage
		recognizer  *mockRecognizer
		service     *Service
		server      *Server
		auth        BasicAuth
		ghttpServer *ghttp.Server
	)

	readBody := func(resp *http.Response) string {
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		Expect(err).NotTo(HaveOccurred())
		return string(body)
	}

	upload := func(filename string, data []byte) *http.Response {
		var b bytes.Buffer
		writer := multipart.NewWriter(&b)
		part, err := writer.CreateFormFile("file", filename)
		Expect(err).NotTo(HaveOccurred())
		part.Write(data)
		writer.Close()

		resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
		Expect(err).NotTo(HaveOccurred())
		return resp
	}

	BeforeEach(func() {
		db = newMockDB()
		storage = newMockStorage()
		recognizer = newMockRecognizer()
		service = NewServiceWithDeps(db, recognizer, newExtractor(), storage,
			&mockIDGenerator{id: "test-id"}, &mockTimeSource{now: time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)})
		auth = BasicAuth{}
	})

	JustBeforeEach(func() {
		server = NewServerWithMux(service, auth, http.NewServeMux())
		ghttpServer = ghttp.NewServer()
		ghttpServer.AppendHandlers(server.ServeHTTP)
	})

	AfterEach(func() {
		if ghttpServer != nil {
			ghttpServer.Close()
		}
	})

	Describe("handleListReceipts", func() {
		When("receipts exist", func() {
			BeforeEach(func() {
				db.receipts["id1"] = &Receipt{ID: "id1"}
				db.receipts["id2"] = &Receipt{ID: "id2"}
			})

			It("should return all receipts as JSON", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var receipts []*Receipt
				Expect(json.Unmarshal([]byte(readBody(resp)), &receipts)).To(Succeed())
				Expect(receipts).To(HaveLen(2))
			})
		})

		When("no receipts exist", func() {
			It("should return an empty array", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(strings.TrimSpace(readBody(resp))).To(Equal("[]"))
			})
		})

		When("service returns an error", func() {
			BeforeEach(func() {
				db.listErr = errors.New("service error")
			})

			It("should return Internal Server Error without the cause", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				body := readBody(resp)
				Expect(body).To(ContainSubstring("Internal server error"))
				Expect(body).NotTo(ContainSubstring("service error"))
			})
		})
	})

	Describe("handleUploadReceipt", func() {
		When("upload succeeds", func() {
			It("should return the processed receipt", func() {
				resp := upload("test.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				Expect(resp.Header.Get("Content-Type")).To(Equal("application/json"))

				var receipt Receipt
				Expect(json.Unmarshal([]byte(readBody(resp)), &receipt)).To(Succeed())
				Expect(receipt.ID).To(Equal("test-id"))
				Expect(receipt.Extraction.StoreName).To(Equal("Joe's Diner"))
				Expect(receipt.Extraction.Items[0].Category).To(Equal("Food & Dining"))
			})
		})

		When("upload succeeds with PDF file", func() {
			It("derives the content type from the extension", func() {
				resp := upload("test.pdf", []byte("fake pdf data"))
				Expect(resp.StatusCode).To(Equal(http.StatusCreated))
				resp.Body.Close()
				Expect(recognizer.contentType).To(Equal("application/pdf"))
			})
		})

		When("the file type is not supported", func() {
			It("should return Bad Request", func() {
				resp := upload("notes.txt", []byte("hello"))
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("unsupported file type"))
			})
		})

		When("the file is over the limit", func() {
			BeforeEach(func() {
				service.SetMaxUploadBytes(4)
			})

			It("should return Request Entity Too Large", func() {
				resp := upload("test.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusRequestEntityTooLarge))
				resp.Body.Close()
			})
		})

		When("no file is provided", func() {
			It("should return Bad Request", func() {
				var b bytes.Buffer
				writer := multipart.NewWriter(&b)
				writer.Close()

				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", writer.FormDataContentType(), &b)
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("No file provided"))
			})
		})

		When("invalid multipart form", func() {
			It("should return Bad Request", func() {
				resp, err := http.Post(ghttpServer.URL()+"/api/receipts", "multipart/form-data", bytes.NewBufferString("invalid"))
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("Error parsing form"))
			})
		})

		When("no recognizer is configured", func() {
			BeforeEach(func() {
				service = NewService(db, nil, newExtractor(), storage)
			})

			It("should return Service Unavailable", func() {
				resp := upload("test.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusServiceUnavailable))

				var response map[string]string
				Expect(json.Unmarshal([]byte(readBody(resp)), &response)).To(Succeed())
				Expect(response["error"]).To(Equal(ErrNoRecognizer.Error()))
			})
		})

		When("the recognizer fails", func() {
			BeforeEach(func() {
				recognizer.err = errors.New("recognize error")
			})

			It("should return Internal Server Error", func() {
				resp := upload("test.jpg", []byte("fake image data"))
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleExtractText", func() {
		post := func(contentType, body string) *http.Response {
			resp, err := http.Post(ghttpServer.URL()+"/api/extractions", contentType, strings.NewReader(body))
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		decode := func(resp *http.Response) *extraction.Extraction {
			var e extraction.Extraction
			Expect(json.Unmarshal([]byte(readBody(resp)), &e)).To(Succeed())
			return &e
		}

		When("the body is plain text", func() {
			It("structures the text", func() {
				resp := post("text/plain; charset=utf-8", "Corner Cafe\nLatte $4.50\nTotal $4.50")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				e := decode(resp)
				Expect(e.Status).To(Equal(extraction.StatusSuccess))
				Expect(e.StoreName).To(Equal("Corner Cafe"))
				Expect(e.Items).To(HaveLen(1))
				Expect(e.Items[0].Category).To(Equal("Food & Dining"))
			})

			It("does not save anything", func() {
				resp := post("text/plain", "Corner Cafe\nLatte $4.50\nTotal $4.50")
				resp.Body.Close()
				Expect(db.receipts).To(BeEmpty())
			})
		})

		When("the body is JSON text", func() {
			It("structures the text", func() {
				resp := post("application/json", `{"text":"Corner Cafe\nLatte $4.50\nTotal $4.50"}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decode(resp).TotalAmount.StringFixed(2)).To(Equal("4.50"))
			})
		})

		When("the body is JSON lines", func() {
			It("structures the lines", func() {
				resp := post("application/json", `{"lines":["Corner Cafe","Latte $4.50","Total $4.50"]}`)
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(decode(resp).Items[0].Name).To(Equal("Latte"))
			})
		})

		When("the text is empty", func() {
			It("returns an error record with status OK", func() {
				resp := post("text/plain", "")
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				e := decode(resp)
				Expect(e.Status).To(Equal(extraction.StatusError))
				Expect(e.StoreName).To(Equal(extraction.UnknownStore))
			})
		})

		When("the JSON is invalid", func() {
			It("should return Bad Request", func() {
				resp := post("application/json", `{"text":`)
				Expect(resp.StatusCode).To(Equal(http.StatusBadRequest))
				Expect(readBody(resp)).To(ContainSubstring("Invalid JSON body"))
			})
		})
	})

	Describe("handleGetReceipt", func() {
		When("receipt exists", func() {
			BeforeEach(func() {
				db.receipts["test-id"] = &Receipt{ID: "test-id", OriginalFilename: "diner.jpg"}
			})

			It("should return the receipt", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/test-id")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))

				var receipt Receipt
				Expect(json.Unmarshal([]byte(readBody(resp)), &receipt)).To(Succeed())
				Expect(receipt.OriginalFilename).To(Equal("diner.jpg"))
			})
		})

		When("receipt does not exist", func() {
			It("should return Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/nonexistent")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				Expect(readBody(resp)).To(ContainSubstring("receipt not found"))
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.getErr = errors.New("database error")
			})

			It("should return Internal Server Error", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/test-id")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleGetReceiptFile", func() {
		When("receipt and file exist", func() {
			BeforeEach(func() {
				db.receipts["test-id"] = &Receipt{
					ID:          "test-id",
					Filename:    "test-file.png",
					ContentType: "image/png",
				}
				storage.files["test-file.png"] = []byte("png data")
			})

			It("should return the file content", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/test-id/file")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				Expect(resp.Header.Get("Content-Type")).To(Equal("image/png"))
				Expect(readBody(resp)).To(Equal("png data"))
			})
		})

		When("file does not exist in storage", func() {
			BeforeEach(func() {
				db.receipts["test-id"] = &Receipt{ID: "test-id", Filename: "missing.png"}
			})

			It("should return Not Found", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts/test-id/file")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})
	})

	Describe("handleDeleteReceipt", func() {
		deleteReceipt := func(id string) *http.Response {
			req, err := http.NewRequest(http.MethodDelete, ghttpServer.URL()+"/api/receipts/"+id, nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			return resp
		}

		When("deletion succeeds", func() {
			BeforeEach(func() {
				db.receipts["test-id"] = &Receipt{ID: "test-id", Filename: "test-file.jpg"}
				storage.files["test-file.jpg"] = []byte("data")
			})

			It("should return No Content and remove the receipt", func() {
				resp := deleteReceipt("test-id")
				Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
				resp.Body.Close()
				Expect(db.receipts).NotTo(HaveKey("test-id"))
				Expect(storage.files).NotTo(HaveKey("test-file.jpg"))
			})
		})

		When("receipt does not exist", func() {
			It("should return Not Found", func() {
				resp := deleteReceipt("nonexistent")
				Expect(resp.StatusCode).To(Equal(http.StatusNotFound))
				resp.Body.Close()
			})
		})

		When("the database fails", func() {
			BeforeEach(func() {
				db.receipts["test-id"] = &Receipt{ID: "test-id"}
				db.deleteErr = errors.New("delete error")
			})

			It("should return Internal Server Error", func() {
				resp := deleteReceipt("test-id")
				Expect(resp.StatusCode).To(Equal(http.StatusInternalServerError))
				resp.Body.Close()
			})
		})
	})

	Describe("handleListCategories", func() {
		It("should return the category names", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/categories")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))

			var categories []string
			Expect(json.Unmarshal([]byte(readBody(resp)), &categories)).To(Succeed())
			Expect(categories).To(HaveLen(11))
			Expect(categories[len(categories)-1]).To(Equal(extraction.OtherCategory))
		})
	})

	Describe("handleExport", func() {
		BeforeEach(func() {
			db.receipts["r1"] = &Receipt{ID: "r1", Extraction: extraction.New(time.Now())}
		})

		It("should return a workbook attachment", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/export.xlsx")
			Expect(err).NotTo(HaveOccurred())
			Expect(resp.StatusCode).To(Equal(http.StatusOK))
			Expect(resp.Header.Get("Content-Type")).To(Equal(xlsxContentType))
			Expect(resp.Header.Get("Content-Disposition")).To(HavePrefix("attachment; filename=receipts-"))
			// xlsx files are zip archives
			Expect(readBody(resp)).To(HavePrefix("PK"))
		})
	})

	Describe("CORS", func() {
		It("answers preflight requests", func() {
			req, err := http.NewRequest(http.MethodOptions, ghttpServer.URL()+"/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
			resp, err := http.DefaultClient.Do(req)
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.StatusCode).To(Equal(http.StatusNoContent))
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})

		It("sets headers on regular responses", func() {
			resp, err := http.Get(ghttpServer.URL() + "/api/categories")
			Expect(err).NotTo(HaveOccurred())
			defer resp.Body.Close()
			Expect(resp.Header.Get("Access-Control-Allow-Origin")).To(Equal("*"))
		})
	})

	Describe("authenticate", func() {
		var req *http.Request

		BeforeEach(func() {
			var err error
			req, err = http.NewRequest("GET", "/api/receipts", nil)
			Expect(err).NotTo(HaveOccurred())
		})

		When("no auth is configured", func() {
			It("should return true", func() {
				Expect(server.authenticate(req)).To(BeTrue())
			})
		})

		When("auth is configured", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
			})

			It("accepts valid credentials", func() {
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:pass")))
				Expect(server.authenticate(req)).To(BeTrue())
			})

			It("rejects invalid credentials", func() {
				req.Header.Set("Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte("user:wrong")))
				Expect(server.authenticate(req)).To(BeFalse())
			})

			It("rejects a malformed header", func() {
				req.Header.Set("Authorization", "Basic !!!")
				Expect(server.authenticate(req)).To(BeFalse())
			})

			It("rejects a missing header", func() {
				Expect(server.authenticate(req)).To(BeFalse())
			})
		})
	})

	Describe("requireAuth", func() {
		When("request is unauthorized", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
			})

			It("should return Unauthorized with a challenge", func() {
				resp, err := http.Get(ghttpServer.URL() + "/api/receipts")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusUnauthorized))
				Expect(resp.Header.Get("WWW-Authenticate")).To(ContainSubstring("Receipt Scanner"))
				resp.Body.Close()
			})
		})

		When("the health endpoint is requested", func() {
			BeforeEach(func() {
				auth = BasicAuth{Username: "user", Password: "pass"}
			})

			It("does not require credentials", func() {
				resp, err := http.Get(ghttpServer.URL() + "/healthz")
				Expect(err).NotTo(HaveOccurred())
				Expect(resp.StatusCode).To(Equal(http.StatusOK))
				resp.Body.Close()
			})
		})
	})
})
