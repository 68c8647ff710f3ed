package spira

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/Inflectra/spira-gitlab-datasync/core/config"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

var _ = Describe("Client", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	It("authenticates with credential query parameters", func() {
		mock := newSpiraAPIMock()
		mock.currentUser = apiUser{UserID: ptr(int64(42)), UserName: "datasync", FirstName: "Data", LastName: "Sync", Active: true}
		mock.start()
		defer mock.close()

		user, err := newTestClient(mock, 100).Authenticate(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(user.ID).To(Equal(int64(42)))
		Expect(user.Login).To(Equal("datasync"))
		Expect(mock.lastQuery.Get("username")).To(Equal("datasync"))
		Expect(mock.lastQuery.Get("api-key")).To(Equal("secret"))
	})

	It("maps rejected credentials to ErrUnauthorized", func() {
		mock := newSpiraAPIMock()
		mock.unauthorized = true
		mock.start()
		defer mock.close()

		_, err := newTestClient(mock, 100).Authenticate(ctx)
		Expect(err).To(MatchError(ErrUnauthorized))
	})

	It("pages through changed incidents in order", func() {
		mock := newSpiraAPIMock()
		for i := 1; i <= 5; i++ {
			mock.incidents = append(mock.incidents, apiIncident{
				IncidentID:       ptr(int64(i)),
				Name:             "incident " + strconv.Itoa(i),
				IncidentStatusID: ptr(int64(1)),
			})
		}
		mock.start()
		defer mock.close()

		incidents, err := newTestClient(mock, 2).IncidentsSince(ctx, 5, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
		Expect(err).NotTo(HaveOccurred())
		Expect(incidents).To(HaveLen(5))
		for i, incident := range incidents {
			Expect(incident.ID).To(Equal(int64(i + 1)))
		}
		Expect(mock.searchStartRows).To(Equal([]int{1, 3, 5}))
	})

	It("sends the cutoff as a date-range filter", func() {
		mock := newSpiraAPIMock()
		mock.start()
		defer mock.close()

		cutoff := time.UnixMilli(1700000000000).UTC()
		_, err := newTestClient(mock, 2).IncidentsSince(ctx, 5, cutoff)
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.lastFilter).To(HaveLen(1))
		Expect(mock.lastFilter[0].PropertyName).To(Equal("LastUpdateDate"))
		Expect(mock.lastFilter[0].DateRangeValue).NotTo(BeNil())
		Expect(time.Time(*mock.lastFilter[0].DateRangeValue.StartDate).UnixMilli()).To(Equal(int64(1700000000000)))
	})

	It("creates an incident and returns server-assigned fields", func() {
		mock := newSpiraAPIMock()
		mock.start()
		defer mock.close()

		created, err := newTestClient(mock, 100).CreateIncident(ctx, 5, model.Incident{Name: "Crash on save", StatusID: 1})
		Expect(err).NotTo(HaveOccurred())
		Expect(created.ID).To(Equal(int64(1001)))
		Expect(created.Name).To(Equal("Crash on save"))
		Expect(created.CreationDate.IsZero()).To(BeFalse())
	})

	It("surfaces structured validation messages on 400", func() {
		mock := newSpiraAPIMock()
		mock.validationReject = []ValidationMessage{{FieldName: "Name", Message: "Name is required"}}
		mock.start()
		defer mock.close()

		_, err := newTestClient(mock, 100).CreateIncident(ctx, 5, model.Incident{})
		var verr *ValidationError
		Expect(errors.As(err, &verr)).To(BeTrue())
		Expect(verr.Messages).To(HaveLen(1))
		Expect(verr.Messages[0].FieldName).To(Equal("Name"))
		Expect(verr.Error()).To(ContainSubstring("Name is required"))
	})

	It("reads and writes artifact mappings with the data-sync system id", func() {
		mock := newSpiraAPIMock()
		mock.artifactMappings = []apiDataMapping{{InternalID: 7, ExternalKey: "31", Primary: true}}
		mock.start()
		defer mock.close()

		client := newTestClient(mock, 100)

		mappings, err := client.ArtifactMappings(ctx, 5, model.ArtifactTypeIncident)
		Expect(err).NotTo(HaveOccurred())
		Expect(mappings).To(HaveLen(1))
		Expect(mappings[0].ProjectID).To(Equal(int64(5)))
		Expect(mappings[0].ExternalKey).To(Equal("31"))
		Expect(mappings[0].Primary).To(BeTrue())
		Expect(mock.lastQuery.Get("data_sync_system_id")).To(Equal("1"))

		err = client.AddArtifactMappings(ctx, 5, model.ArtifactTypeIncident, []model.ArtifactMapping{
			{ProjectID: 5, InternalID: 8, ExternalKey: "32", Primary: true},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.addedMappings).To(HaveLen(1))
		Expect(mock.addedMappings[0].ExternalKey).To(Equal("32"))

		err = client.RemoveArtifactMappings(ctx, 5, model.ArtifactTypeIncident, mappings)
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.removedMappings).To(HaveLen(1))
		Expect(mock.removedMappings[0].InternalID).To(Equal(int64(7)))
	})

	It("reads field, user and custom-property option mappings", func() {
		mock := newSpiraAPIMock()
		mock.fieldValueMappings = []apiDataMapping{{InternalID: 1, ExternalKey: "opened"}}
		mock.userMappings = []apiDataMapping{{InternalID: 7, ExternalKey: "jsmith"}}
		mock.optionMappings = []apiDataMapping{{InternalID: 101, ExternalKey: "blocker"}}
		mock.start()
		defer mock.close()

		client := newTestClient(mock, 100)

		statuses, err := client.FieldValueMappings(ctx, 5, FieldStatus)
		Expect(err).NotTo(HaveOccurred())
		Expect(statuses).To(HaveLen(1))
		Expect(statuses[0].InternalID).To(Equal(int64(1)))
		Expect(statuses[0].ExternalValue).To(Equal("opened"))
		Expect(statuses[0].ProjectID).To(Equal(int64(5)))

		users, err := client.UserMappings(ctx, 5)
		Expect(err).NotTo(HaveOccurred())
		Expect(users).To(HaveLen(1))
		Expect(users[0].ExternalValue).To(Equal("jsmith"))

		options, err := client.PropertyOptionMappings(ctx, 5, 14)
		Expect(err).NotTo(HaveOccurred())
		Expect(options).To(HaveLen(1))
		Expect(options[0].InternalID).To(Equal(int64(101)))
		Expect(mock.lastQuery.Get("data_sync_system_id")).To(Equal("1"))
	})

	It("posts comments in one bulk call", func() {
		mock := newSpiraAPIMock()
		mock.start()
		defer mock.close()

		err := newTestClient(mock, 100).AddComments(ctx, 5, 31, []model.Comment{
			{Text: "Posted By: jsmith\n\nFixed the bug"},
			{Text: "second"},
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(mock.commentCalls).To(Equal(1))
		Expect(mock.addedComments).To(HaveLen(2))
		Expect(mock.addedComments[0].ArtifactID).To(Equal(int64(31)))
	})

	It("maps missing users to ErrNotFound", func() {
		mock := newSpiraAPIMock()
		mock.start()
		defer mock.close()

		_, err := newTestClient(mock, 100).UserByLogin(ctx, "ghost")
		Expect(err).To(MatchError(ErrNotFound))
	})
})

func newTestClient(mock *spiraAPIMock, pageSize int) *Client {
	return NewClient(config.SpiraConfig{
		BaseURL:    mock.baseURL(),
		Login:      "datasync",
		APIKey:     "secret",
		DataSyncID: 1,
	}, pageSize)
}

func ptr[T any](v T) *T {
	return &v
}

type spiraAPIMock struct {
	server *httptest.Server

	currentUser        apiUser
	users              map[string]apiUser
	unauthorized       bool
	incidents          []apiIncident
	artifactMappings   []apiDataMapping
	fieldValueMappings []apiDataMapping
	userMappings       []apiDataMapping
	optionMappings     []apiDataMapping
	validationReject   []ValidationMessage

	searchStartRows []int
	lastFilter      []apiFilter
	lastQuery       url.Values
	addedMappings   []apiDataMapping
	removedMappings []apiDataMapping
	addedComments   []apiComment
	commentCalls    int
}

func newSpiraAPIMock() *spiraAPIMock {
	return &spiraAPIMock{
		currentUser: apiUser{UserID: ptr(int64(1)), UserName: "datasync", Active: true},
		users:       make(map[string]apiUser),
	}
}

func (m *spiraAPIMock) baseURL() string {
	return m.server.URL
}

func (m *spiraAPIMock) start() {
	const prefix = "/Services/v6_0/RestService.svc"
	m.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.URL.Path, prefix) {
			http.NotFound(w, r)
			return
		}
		m.lastQuery = r.URL.Query()
		if m.unauthorized {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		path := strings.TrimPrefix(r.URL.Path, prefix)
		switch {
		case path == "/users" && r.Method == http.MethodGet:
			m.write(w, m.currentUser)
		case strings.HasPrefix(path, "/users/usernames/") && r.Method == http.MethodGet:
			m.handleUserByLogin(w, strings.TrimPrefix(path, "/users/usernames/"))
		case strings.HasSuffix(path, "/incidents/search") && r.Method == http.MethodPost:
			m.handleSearch(w, r)
		case strings.HasSuffix(path, "/incidents") && r.Method == http.MethodPost:
			m.handleCreateIncident(w, r)
		case strings.Contains(path, "/incidents/") && strings.HasSuffix(path, "/comments") && r.Method == http.MethodPost:
			m.handleAddComments(w, r)
		case strings.Contains(path, "/data-mappings/artifacts/") && strings.HasSuffix(path, "/remove") && r.Method == http.MethodPost:
			m.handleRemoveMappings(w, r)
		case strings.Contains(path, "/data-mappings/artifacts/") && r.Method == http.MethodGet:
			m.write(w, m.artifactMappings)
		case strings.Contains(path, "/data-mappings/artifacts/") && r.Method == http.MethodPost:
			m.handleAddMappings(w, r)
		case strings.Contains(path, "/data-mappings/field-values/") && r.Method == http.MethodGet:
			m.write(w, m.fieldValueMappings)
		case strings.HasSuffix(path, "/data-mappings/users") && r.Method == http.MethodGet:
			m.write(w, m.userMappings)
		case strings.Contains(path, "/data-mappings/custom-properties/") && strings.HasSuffix(path, "/options") && r.Method == http.MethodGet:
			m.write(w, m.optionMappings)
		default:
			http.NotFound(w, r)
		}
	}))
}

func (m *spiraAPIMock) close() {
	m.server.Close()
}

func (m *spiraAPIMock) handleUserByLogin(w http.ResponseWriter, login string) {
	user, ok := m.users[login]
	if !ok {
		http.Error(w, "user not found", http.StatusNotFound)
		return
	}
	m.write(w, user)
}

func (m *spiraAPIMock) handleSearch(w http.ResponseWriter, r *http.Request) {
	startRow, _ := strconv.Atoi(r.URL.Query().Get("start_row"))
	numberRows, _ := strconv.Atoi(r.URL.Query().Get("number_rows"))
	m.searchStartRows = append(m.searchStartRows, startRow)

	var filter []apiFilter
	_ = json.NewDecoder(r.Body).Decode(&filter)
	m.lastFilter = filter

	start := startRow - 1
	if start >= len(m.incidents) {
		m.write(w, []apiIncident{})
		return
	}
	end := start + numberRows
	if end > len(m.incidents) {
		end = len(m.incidents)
	}
	m.write(w, m.incidents[start:end])
}

func (m *spiraAPIMock) handleCreateIncident(w http.ResponseWriter, r *http.Request) {
	if len(m.validationReject) > 0 {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{"Messages": m.validationReject})
		return
	}

	var incident apiIncident
	_ = json.NewDecoder(r.Body).Decode(&incident)
	incident.IncidentID = ptr(int64(1001))
	now := apiTime(time.Now().UTC())
	incident.CreationDate = &now
	incident.LastUpdateDate = &now
	incident.ConcurrencyDate = &now
	m.write(w, incident)
}

func (m *spiraAPIMock) handleAddComments(w http.ResponseWriter, r *http.Request) {
	m.commentCalls++
	var comments []apiComment
	_ = json.NewDecoder(r.Body).Decode(&comments)
	m.addedComments = append(m.addedComments, comments...)
	m.write(w, comments)
}

func (m *spiraAPIMock) handleAddMappings(w http.ResponseWriter, r *http.Request) {
	var mappings []apiDataMapping
	_ = json.NewDecoder(r.Body).Decode(&mappings)
	m.addedMappings = append(m.addedMappings, mappings...)
	w.WriteHeader(http.StatusOK)
}

func (m *spiraAPIMock) handleRemoveMappings(w http.ResponseWriter, r *http.Request) {
	var mappings []apiDataMapping
	_ = json.NewDecoder(r.Body).Decode(&mappings)
	m.removedMappings = append(m.removedMappings, mappings...)
	w.WriteHeader(http.StatusOK)
}

func (m *spiraAPIMock) write(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
