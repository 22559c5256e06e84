package website

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mujeresenbici/rodada/internal/access"
	"github.com/mujeresenbici/rodada/internal/aggregate"
	"github.com/mujeresenbici/rodada/internal/login"
	"github.com/mujeresenbici/rodada/internal/models"
	"github.com/mujeresenbici/rodada/internal/registration"
	"github.com/mujeresenbici/rodada/internal/store"
	"github.com/mujeresenbici/rodada/internal/store/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	testAdminEmail = "mujeresenbici2026@gmail.com"
	testPassword   = "rodada-8m"
)

var testSecret = []byte("0123456789abcdef0123456789abcdef")

// faultyStore is a memory store whose companion writes and companion reads
// can be switched to fail.
type faultyStore struct {
	*memory.RegistrationStore
	failCompanionWrites atomic.Bool
	failCompanionReads  atomic.Bool
}

func (s *faultyStore) InsertCompanions(ctx context.Context, companions []models.CompanionEntry) error {
	if s.failCompanionWrites.Load() {
		return store.ErrUnavailable
	}
	return s.RegistrationStore.InsertCompanions(ctx, companions)
}

func (s *faultyStore) ListCompanions(ctx context.Context) ([]models.CompanionEntry, error) {
	if s.failCompanionReads.Load() {
		return nil, store.ErrUnavailable
	}
	return s.RegistrationStore.ListCompanions(ctx)
}

type testEnv struct {
	store  *faultyStore
	server *httptest.Server
	client *http.Client
}

type envOptions struct {
	allowed       []string
	passwordEmail string
}

func newTestEnv(t *testing.T, opts envOptions) *testEnv {
	t.Helper()

	if opts.passwordEmail == "" {
		opts.passwordEmail = testAdminEmail
	}

	st := &faultyStore{RegistrationStore: memory.NewRegistrationStore()}

	svc, err := registration.NewService(st)
	require.NoError(t, err)

	hash, err := login.HashPassword(testPassword)
	require.NoError(t, err)
	password, err := login.NewPasswordAuthenticator(opts.passwordEmail, hash)
	require.NoError(t, err)

	sessions, err := login.NewSessions(testSecret, time.Hour, login.NewMemoryRevocationList(time.Minute),
		login.WithInsecureCookie(),
		login.WithConfirmOptions(login.WithConfirmInterval(time.Millisecond)),
	)
	require.NoError(t, err)

	reg := prometheus.NewRegistry()

	srv, err := New(Config{}, Deps{
		Registrations: svc,
		Dashboard:     aggregate.NewLoader(st),
		Gate:          access.NewGate(access.NewAllowList(opts.allowed...)),
		Sessions:      sessions,
		Password:      password,
		Logger:        zerolog.Nop(),
		Registerer:    reg,
		Gatherer:      reg,
	})
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &testEnv{
		store:  st,
		server: ts,
		client: &http.Client{
			Jar: jar,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

func (e *testEnv) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (e *testEnv) post(t *testing.T, path string, values url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.PostForm(e.server.URL+path, values)
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (e *testEnv) postJSON(t *testing.T, path, body string) (*http.Response, string) {
	t.Helper()
	resp, err := e.client.Post(e.server.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	return resp, readBody(t, resp)
}

func (e *testEnv) signIn(t *testing.T) {
	t.Helper()
	resp, _ := e.post(t, "/login", url.Values{"email": {testAdminEmail}, "password": {testPassword}})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/admin", resp.Header.Get("Location"))
}

func (e *testEnv) seed(t *testing.T, name string, companions ...string) models.PrimaryRegistration {
	t.Helper()
	ctx := context.Background()

	reg := models.PrimaryRegistration{Name: name, Place: "Maravatío", Age: 30}
	require.NoError(t, e.store.InsertPrimary(ctx, &reg))

	if len(companions) > 0 {
		batch := make([]models.CompanionEntry, 0, len(companions))
		for _, c := range companions {
			batch = append(batch, models.CompanionEntry{RegistrationID: reg.RegistrationID, Name: c, Age: 12})
		}
		require.NoError(t, e.store.InsertCompanions(ctx, batch))
	}
	return reg
}

func (e *testEnv) counts(t *testing.T) (int, int) {
	t.Helper()
	primaries, err := e.store.ListPrimaries(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	companions, err := e.store.ListCompanions(context.Background())
	require.NoError(t, err)
	return len(primaries), len(companions)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(b)
}

func TestNew_requiresDependencies(t *testing.T) {
	_, err := New(Config{}, Deps{})
	require.Error(t, err)

	_, err = New(Config{MaxCompanions: -1}, Deps{})
	require.ErrorContains(t, err, "invalid website config")
}

func TestServer_landing(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.get(t, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	require.Contains(t, body, "Rodada 8M")
	require.Contains(t, body, "Canchas del Chirimoyo")
	require.Contains(t, body, "mujeresenbici2026@gmail.com")
	require.Contains(t, body, `href="/registro"`)
	require.Contains(t, body, "/static/")
}

func TestServer_operationalEndpoints(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body)

	env.get(t, "/")
	resp, body = env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "http_requests_total")

	resp, body = env.get(t, "/no-existe")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Contains(t, body, "Página no encontrada")
	require.Contains(t, body, "Volver al Inicio")
}

func TestServer_registrationFormRows(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name     string
		query    string
		wantRows int
	}{
		{name: "default", query: "", wantRows: 0},
		{name: "three", query: "?integrantes=3", wantRows: 3},
		{name: "clamped", query: "?integrantes=99", wantRows: DefaultMaxCompanions},
		{name: "negative", query: "?integrantes=-2", wantRows: 0},
		{name: "garbage", query: "?integrantes=muchos", wantRows: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.get(t, "/registro"+tt.query)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			if tt.wantRows > 0 {
				require.Contains(t, body, fmt.Sprintf(`name="integrantes-%d-nombre"`, tt.wantRows-1))
			}
			require.NotContains(t, body, fmt.Sprintf(`name="integrantes-%d-nombre"`, tt.wantRows))
			require.NotContains(t, body, "Registro guardado")
		})
	}
}

func TestServer_registrationSubmit(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, _ := env.post(t, "/registro", url.Values{
		"nombre":               {"  Ana López "},
		"procedencia":          {"Maravatío"},
		"edad":                 {"34"},
		"grupo":                {"Rodadas MX"},
		"talla":                {"m"},
		"integrantes":          {"2"},
		"integrantes-0-nombre": {"Luz"},
		"integrantes-0-edad":   {"12"},
		"integrantes-1-nombre": {"Sol"},
		"integrantes-1-edad":   {"9"},
		"integrantes-1-talla":  {"xs"},
	})
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/registro?guardado=1", resp.Header.Get("Location"))

	primaries, err := env.store.ListPrimaries(context.Background(), store.ListOptions{})
	require.NoError(t, err)
	require.Len(t, primaries, 1)
	require.Equal(t, "Ana López", primaries[0].Name)
	require.Equal(t, "M", models.StringValue(primaries[0].Size))
	require.Nil(t, primaries[0].Phone)

	companions, err := env.store.ListCompanions(context.Background())
	require.NoError(t, err)
	require.Len(t, companions, 2)
	require.Equal(t, primaries[0].RegistrationID, companions[0].RegistrationID)
	require.Equal(t, "XS", models.StringValue(companions[1].Size))

	resp, body := env.get(t, "/registro?guardado=1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "¡Registro guardado correctamente!")
}

func TestServer_registrationSubmitInvalid(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.post(t, "/registro", url.Values{
		"nombre":               {"Ana"},
		"edad":                 {"treinta"},
		"integrantes":          {"1"},
		"integrantes-0-nombre": {"Luz"},
	})
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, body, "Campos requeridos faltantes")
	require.Contains(t, body, "Lugar de procedencia")
	require.Contains(t, body, "Edad debe ser un número")
	require.Contains(t, body, "Edad del integrante #1")
	// typed values survive the re-render
	require.Contains(t, body, `value="Ana"`)
	require.Contains(t, body, `value="Luz"`)

	primaries, companions := env.counts(t)
	require.Zero(t, primaries)
	require.Zero(t, companions)
}

func TestServer_registrationRowActions(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	base := url.Values{
		"nombre":               {"Ana"},
		"integrantes":          {"2"},
		"integrantes-0-nombre": {"Luz"},
		"integrantes-1-nombre": {"Sol"},
	}

	add := url.Values{"accion": {"add"}}
	for k, v := range base {
		add[k] = v
	}
	resp, body := env.post(t, "/registro", add)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `name="integrantes-2-nombre"`)
	require.Contains(t, body, `value="Luz"`)
	require.Contains(t, body, `value="Sol"`)

	remove := url.Values{"accion": {"remove-0"}}
	for k, v := range base {
		remove[k] = v
	}
	resp, body = env.post(t, "/registro", remove)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, body, `value="Luz"`)
	require.Contains(t, body, `value="Sol"`)
	require.NotContains(t, body, `name="integrantes-1-nombre"`)

	primaries, _ := env.counts(t)
	require.Zero(t, primaries, "row actions never submit")
}

func TestServer_registrationTooManyCompanions(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rows := DefaultMaxCompanions + 1
	values := url.Values{
		"nombre":      {"Ana"},
		"procedencia": {"Maravatío"},
		"edad":        {"34"},
		"integrantes": {strconv.Itoa(rows)},
	}
	for i := range rows {
		values.Set(companionField(i, "nombre"), fmt.Sprintf("Integrante %d", i+1))
		values.Set(companionField(i, "edad"), "10")
	}

	resp, body := env.post(t, "/registro", values)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, body, "Demasiados integrantes")
	require.Contains(t, body, fmt.Sprintf("hasta %d integrantes", DefaultMaxCompanions))
	// every posted row is re-rendered, including the one past the limit
	require.Contains(t, body, fmt.Sprintf(`value="Integrante %d"`, rows))

	primaries, companions := env.counts(t)
	require.Zero(t, primaries)
	require.Zero(t, companions)

	// removing the extra row is still allowed
	values.Set("accion", fmt.Sprintf("remove-%d", rows-1))
	resp, body = env.post(t, "/registro", values)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotContains(t, body, fmt.Sprintf(`value="Integrante %d"`, rows))

	values.Del("accion")
	values.Set("integrantes", strconv.Itoa(DefaultMaxCompanions))
	values.Del(companionField(rows-1, "nombre"))
	values.Del(companionField(rows-1, "edad"))
	resp, _ = env.post(t, "/registro", values)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)

	primaries, companions = env.counts(t)
	require.Equal(t, 1, primaries)
	require.Equal(t, DefaultMaxCompanions, companions)
}

func TestServer_registrationUnstorableAges(t *testing.T) {
	tests := []struct {
		name    string
		age     string
		message string
	}{
		{name: "above int32", age: "3000000000", message: "Edad del integrante #1 está fuera de rango"},
		{name: "arabic indic digits", age: "٣٠", message: "Edad del integrante #1 debe ser un número"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, envOptions{})

			resp, body := env.post(t, "/registro", url.Values{
				"nombre":               {"Ana"},
				"procedencia":          {"Maravatío"},
				"edad":                 {"34"},
				"integrantes":          {"1"},
				"integrantes-0-nombre": {"Luz"},
				"integrantes-0-edad":   {tt.age},
			})
			require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
			require.Contains(t, body, tt.message)

			primaries, companions := env.counts(t)
			require.Zero(t, primaries, "nothing is written for an age the store cannot hold")
			require.Zero(t, companions)
		})
	}
}

func TestServer_registrationCompanionFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.store.failCompanionWrites.Store(true)

	resp, body := env.post(t, "/registro", url.Values{
		"nombre":               {"Ana"},
		"procedencia":          {"Maravatío"},
		"edad":                 {"34"},
		"integrantes":          {"1"},
		"integrantes-0-nombre": {"Luz"},
		"integrantes-0-edad":   {"12"},
	})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	require.Contains(t, body, "Error guardando integrantes")

	// the primary write is not rolled back
	primaries, companions := env.counts(t)
	require.Equal(t, 1, primaries)
	require.Zero(t, companions)
}

func TestServer_dashboardRequiresLogin(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, _ := env.get(t, "/admin")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))

	resp, body := env.get(t, "/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, `name="password"`)
	require.NotContains(t, body, "/login/github")
}

func TestServer_loginErrors(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	resp, body := env.post(t, "/login", url.Values{"email": {testAdminEmail}, "password": {"incorrecta"}})
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, body, "Correo o contraseña incorrectos.")
	require.Contains(t, body, `value="mujeresenbici2026@gmail.com"`)

	_, body = env.get(t, "/login?error=github")
	require.Contains(t, body, "No se pudo iniciar sesión con GitHub.")

	_, body = env.get(t, "/login?error=otro")
	require.NotContains(t, body, "alert-error")
}

func TestServer_dashboard(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	eva := env.seed(t, "Eva", "Luz", "Sol")
	env.seed(t, "Ana")

	env.signIn(t)

	// signed in users skip the login page
	resp, _ := env.get(t, "/login")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/admin", resp.Header.Get("Location"))

	resp, body := env.get(t, "/admin")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "Panel de registros")
	require.Contains(t, body, "Cerrar sesión")
	require.Contains(t, body, "Página 1 de 1")
	require.Contains(t, body, ">2.0<")
	require.NotContains(t, body, ">Luz<")

	resp, body = env.get(t, "/admin?ver="+eva.RegistrationID.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "<td>Luz</td>")
	require.Contains(t, body, "<td>Sol</td>")
}

func TestServer_dashboardPagination(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	for i := range 12 {
		env.seed(t, fmt.Sprintf("Ciclista %02d", i))
		time.Sleep(time.Millisecond)
	}
	env.signIn(t)

	_, body := env.get(t, "/admin")
	require.Contains(t, body, "Página 1 de 2")
	require.Contains(t, body, "Ciclista 11")
	require.NotContains(t, body, "Ciclista 01")

	_, body = env.get(t, "/admin?pagina=2")
	require.Contains(t, body, "Página 2 de 2")
	require.Contains(t, body, "Ciclista 00")
	require.Contains(t, body, "Ciclista 01")
	require.NotContains(t, body, "Ciclista 11")

	_, body = env.get(t, "/admin?pagina=99")
	require.Contains(t, body, "Página 2 de 2")
}

func TestServer_dashboardLoadFailure(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(t, "Eva")
	env.signIn(t)

	env.store.failCompanionReads.Store(true)

	resp, body := env.get(t, "/admin?pagina=1")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Contains(t, body, "No se pudieron cargar los registros")
	require.Contains(t, body, "Reintentar")
	require.Contains(t, body, "Volver al Inicio")
	require.NotContains(t, body, "Eva")
}

func TestServer_unlistedUserIsSignedOut(t *testing.T) {
	env := newTestEnv(t, envOptions{
		allowed:       []string{"otra@example.com"},
		passwordEmail: testAdminEmail,
	})

	env.signIn(t)

	resp, _ := env.get(t, "/admin")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	// the session is gone, so the dashboard now asks for a login
	resp, _ = env.get(t, "/admin")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestServer_logout(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.signIn(t)

	resp, _ := env.post(t, "/logout", nil)
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.Equal(t, "/", resp.Header.Get("Location"))

	resp, _ = env.get(t, "/admin")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/login", resp.Header.Get("Location"))
}

func TestServer_apiSubmit(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "created",
			body:       `{"nombre":"Ana","procedencia":"Maravatío","edad":"34","integrantes":[{"nombre":"Luz","edad":"12","talla":"s"}]}`,
			wantStatus: http.StatusCreated,
			wantBody:   `"talla":"S"`,
		},
		{
			name:       "numeric ages",
			body:       `{"nombre":"Eva","procedencia":"Morelia","edad":29,"integrantes":[{"nombre":"Sol","edad":7}]}`,
			wantStatus: http.StatusCreated,
			wantBody:   `"edad":29`,
		},
		{
			name:       "decimal age",
			body:       `{"nombre":"Eva","procedencia":"Morelia","edad":29.5}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "Edad debe ser un número",
		},
		{
			name:       "age out of range",
			body:       `{"nombre":"Eva","procedencia":"Morelia","edad":3000000000}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "Edad está fuera de rango",
		},
		{
			name:       "wrong field type",
			body:       `{"nombre":5,"procedencia":"Morelia","edad":29}`,
			wantStatus: http.StatusBadRequest,
			wantBody:   `nombre`,
		},
		{
			name:       "invalid",
			body:       `{"nombre":"Ana"}`,
			wantStatus: http.StatusUnprocessableEntity,
			wantBody:   "Lugar de procedencia",
		},
		{
			name:       "malformed",
			body:       `{"nombre":`,
			wantStatus: http.StatusBadRequest,
			wantBody:   "Solicitud inválida",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.postJSON(t, "/api/registrations", tt.body)
			require.Equal(t, tt.wantStatus, resp.StatusCode)
			require.Equal(t, "application/json", resp.Header.Get("Content-Type"))
			require.Contains(t, body, tt.wantBody)
		})
	}

	primaries, companions := env.counts(t)
	require.Equal(t, 2, primaries)
	require.Equal(t, 2, companions)
}

func TestServer_apiSubmitTooManyCompanions(t *testing.T) {
	env := newTestEnv(t, envOptions{})

	rows := make([]string, DefaultMaxCompanions+1)
	for i := range rows {
		rows[i] = `{"nombre":"Luz","edad":"10"}`
	}
	body := `{"nombre":"Ana","procedencia":"Maravatío","edad":"34","integrantes":[` + strings.Join(rows, ",") + `]}`

	resp, out := env.postJSON(t, "/api/registrations", body)
	require.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	require.Contains(t, out, "Demasiados integrantes")

	primaries, _ := env.counts(t)
	require.Zero(t, primaries)
}

func TestServer_apiSummary(t *testing.T) {
	env := newTestEnv(t, envOptions{})
	env.seed(t, "Eva", "Luz")

	resp, _ := env.get(t, "/api/summary")
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	env.signIn(t)

	resp, body := env.get(t, "/api/summary")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got summaryJSON
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Equal(t, 1, got.TotalRegistrations)
	require.Equal(t, 1, got.TotalCompanions)
	require.Equal(t, 2, got.TotalAttendees)
	require.InDelta(t, 2.0, got.AveragePartySize, 0.001)
	require.Equal(t, 1, got.Page.Number)
	require.Len(t, got.Page.Registrations, 1)
	require.Equal(t, "Luz", got.Page.Registrations[0].Companions[0].Name)

	env.store.failCompanionReads.Store(true)
	resp, _ = env.get(t, "/api/summary")
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServer_apiSummaryForbidden(t *testing.T) {
	env := newTestEnv(t, envOptions{allowed: []string{"otra@example.com"}})
	env.signIn(t)

	resp, _ := env.get(t, "/api/summary")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
