package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	. "github.com/noteearly/noteearly/apps/api/echo"
	"github.com/noteearly/noteearly/core"
	"github.com/noteearly/noteearly/core/billing"
	"github.com/noteearly/noteearly/core/module"
	"github.com/noteearly/noteearly/core/profile"
	"github.com/noteearly/noteearly/core/progress"
	"github.com/noteearly/noteearly/core/vocabulary"
	billingsvc "github.com/noteearly/noteearly/services/billing"
	emailsvc "github.com/noteearly/noteearly/services/email"
	inmemdb "github.com/noteearly/noteearly/storage/database/inmem"
	testutil "github.com/noteearly/noteearly/tests"
)

var (
	errMissingToken = httpErr{Error: "missing or malformed jwt"}
	errInvalidToken = httpErr{Error: "invalid or expired jwt"}
	errForbidden    = httpErr{Error: "permission denied"}
	errNotFound     = httpErr{Error: "not found"}
)

// verifierMock accepts the tokens returned by testEnv.adminToken.
type verifierMock struct {
	identities map[string]profile.Identity
}

func (v *verifierMock) Verify(_ context.Context, token string) (profile.Identity, error) {
	if ident, ok := v.identities[token]; ok {
		return ident, nil
	}
	return profile.Identity{}, errors.New("invalid token")
}

type testEnv struct {
	app      *Server
	conf     *core.Config
	verifier *verifierMock
	provider *billingsvc.DummyProvider
	mailer   *emailsvc.ConsoleService

	profileRepo  profile.Repository
	moduleRepo   module.Repository
	progressRepo progress.Repository
	vocabRepo    vocabulary.Repository
	billingRepo  billing.Repository

	billingSvc *billing.Service
}

func setup(t *testing.T, confFns ...func(*core.Config)) *testEnv {
	conf := core.NewTestConfig()
	conf.Debug = false
	for _, fn := range confFns {
		fn(conf)
	}
	logger := testutil.NewLogger(t, conf)

	// set up DB & repos
	db := inmemdb.Open()
	env := &testEnv{
		conf:         conf,
		verifier:     &verifierMock{identities: make(map[string]profile.Identity)},
		provider:     billingsvc.NewDummyProvider(conf),
		mailer:       emailsvc.NewConsoleServiceMock(conf, logger),
		profileRepo:  inmemdb.NewProfileRepository(db),
		moduleRepo:   inmemdb.NewModuleRepository(db),
		progressRepo: inmemdb.NewProgressRepository(db),
		vocabRepo:    inmemdb.NewVocabularyRepository(db),
		billingRepo:  inmemdb.NewBillingRepository(db),
	}

	// set up services
	env.billingSvc = billing.NewService(env.billingRepo, env.profileRepo, env.provider, env.mailer, conf, logger)
	profileSvc := profile.NewService(env.profileRepo, env.billingSvc)
	progressSvc := progress.NewService(env.progressRepo, profileSvc)

	// set up server
	validate, translator := testutil.NewTranslatedValidator()
	env.app = NewServer(ServerDeps{
		Conf:           conf,
		Logger:         logger,
		Validate:       validate,
		Translator:     translator,
		DisableReqLogs: true,
		Verifier:       env.verifier,
		ProfileSvc:     profileSvc,
		ModuleSvc:      module.NewService(env.moduleRepo),
		ProgressSvc:    progressSvc,
		VocabularySvc:  vocabulary.NewService(env.vocabRepo, progressSvc),
		BillingSvc:     env.billingSvc,
	})
	t.Cleanup(func() { _ = env.app.Close() })
	return env
}

// adminToken returns a token the Supabase verifier mock accepts for the Admin.
func (env *testEnv) adminToken(p profile.Profile) string {
	token := "supabase-" + p.ID
	env.verifier.identities[token] = profile.Identity{ID: p.ID, Email: p.Email, Name: p.Name}
	return token
}

func (env *testEnv) identityToken(ident profile.Identity) string {
	token := "supabase-" + ident.ID
	env.verifier.identities[token] = ident
	return token
}

func (env *testEnv) serve(req *http.Request, rec *httptest.ResponseRecorder) {
	env.app.ServeHTTP(rec, req)
}

type httpErr struct {
	Error string `json:"error"`
}

type httpTest struct {
	name     string
	method   string
	path     string
	body     []byte
	token    string
	wantCode int
	wantData []byte
}

func (tt httpTest) run(t *testing.T, env *testEnv) *httptest.ResponseRecorder {
	method := tt.method
	if method == "" {
		method = http.MethodGet
	}
	req, rec := newAuthRequest(method, tt.path, tt.token, tt.body)
	env.serve(req, rec)
	checkCodeAndData(t, tt, rec)
	return rec
}

func newAuthRequest(method, path, token string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	var body bytes.Buffer
	if len(data) > 0 {
		body.Write(data[0])
	}
	req := httptest.NewRequest(method, path, &body)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	return req, rec
}

func newRequest(method, path string, data ...[]byte) (*http.Request, *httptest.ResponseRecorder) {
	return newAuthRequest(method, path, "", data...)
}

func getToken(t *testing.T, conf *core.Config, student profile.Profile) string {
	token, err := GenerateToken(conf, GetStudentClaims(conf, student))
	if err != nil {
		t.Fatalf("getToken() failed: %v", err)
	}
	return token
}

func marchallObj(t *testing.T, obj interface{}) []byte {
	data, err := json.Marshal(obj)
	if err != nil {
		t.Fatalf("marchallObj() failed: %v", err)
	}
	return data
}

func marchallList(t *testing.T, objs ...interface{}) []byte {
	if objs == nil {
		objs = []interface{}{}
	}
	data, err := json.Marshal(objs)
	if err != nil {
		t.Fatalf("marchallList() failed: %v", err)
	}
	return data
}

func unmarshal(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("json.Unmarshal() failed: %v; body: %s", err, rec.Body.String())
	}
}

func jsonBytesEqual(b1, b2 []byte) (bool, error) {
	var j1, j2 interface{}
	if err := json.Unmarshal(b1, &j1); err != nil {
		return false, err
	}
	if err := json.Unmarshal(b2, &j2); err != nil {
		return false, err
	}
	return reflect.DeepEqual(j1, j2), nil
}

func checkCodeAndData(t *testing.T, tt httpTest, rec *httptest.ResponseRecorder) {
	t.Helper()
	wantCode := tt.wantCode
	if wantCode == 0 {
		wantCode = http.StatusOK
	}
	if rec.Code != wantCode {
		t.Errorf("failed! code = %v; wantCode %v; body %s", rec.Code, wantCode, rec.Body.String())
	}
	if tt.wantData == nil {
		return
	}
	ok, err := jsonBytesEqual(rec.Body.Bytes(), tt.wantData)
	if err != nil {
		t.Errorf("jsonBytesEqual() failed to compare; err %v", err)
	}
	if !ok {
		t.Errorf("failed! data = %v; wantData %v", rec.Body.String(), string(tt.wantData))
	}
}

// mockNow sets core.NowFunc for the duration of the test.
func mockNow(t *testing.T, now time.Time) {
	orig := core.NowFunc
	core.NowFunc = func() time.Time { return now }
	t.Cleanup(func() { core.NowFunc = orig })
}

func TestServer_Health(t *testing.T) {
	env := setup(t)

	httpTest{name: "health", path: "/health", wantData: []byte(`{"status":"ok"}`)}.run(t, env)

	req, rec := newRequest(http.MethodGet, "/metrics")
	env.serve(req, rec)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "noteearly_http_requests_total")
}
