package rusprofile

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const loginPage = `<!DOCTYPE html>
<html><body>
<form method="post">
<input type="hidden" name="_token" value="csrf-123">
<input name="email"><input name="password">
</form>
</body></html>`

const loggedInPage = `<!DOCTYPE html>
<html><body><a href="/logout">Выход</a></body></html>`

func companyPage(inn string) string {
	return fmt.Sprintf(`<!DOCTYPE html>
<html><head><link rel="canonical" href="https://www.rusprofile.ru/id/555"></head>
<body>
<h1>ООО  "Ромашка"</h1>
<div>ИНН: %s ОГРН: 1027700092661</div>
<div>ОКВЭД: 41.20</div>
<address>г. Самара, ул. Строителей, 1</address>
<div>Выручка за 2024: 1,2 млрд руб.</div>
<div>Чистая прибыль за 2024: -15,5 млн руб.</div>
<div>Среднесписочная численность: 120</div>
<div>Госконтрактов: 7</div>
<div>как истец: 2 как ответчик: 3</div>
<div>Генеральный директор: Иванов Иван Иванович</div>
<div>Телефон: +7 (846) 123-45-67, email: Info@Romashka.ru</div>
</body></html>`, inn)
}

func newTestServer(t *testing.T) (*httptest.Server, Client) {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			require.NoError(t, r.ParseForm())
			if r.PostForm.Get("email") != "parser@example.com" ||
				r.PostForm.Get("password") != "secret" ||
				r.PostForm.Get("_token") != "csrf-123" {
				fmt.Fprint(w, loginPage)
				return
			}
			http.SetCookie(w, &http.Cookie{Name: "session_id", Value: "sess-abc", Path: "/"})
			fmt.Fprint(w, loggedInPage)
			return
		}
		fmt.Fprint(w, loginPage)
	})
	mux.HandleFunc("/search", func(w http.ResponseWriter, r *http.Request) {
		if c, err := r.Cookie("session_id"); err != nil || c.Value != "sess-abc" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		switch r.URL.Query().Get("query") {
		case "7707083893":
			fmt.Fprint(w, companyPage("7707083893"))
		case "7736050003":
			// Ambiguous query: a results list with a company link.
			fmt.Fprint(w, `<html><body><a href="/id/777" class="company-name">ООО Газпром</a></body></html>`)
		case "500100732259":
			// Fuzzy search: the top hit is a different company.
			fmt.Fprint(w, companyPage("7707083893"))
		case "429429429429":
			w.WriteHeader(http.StatusTooManyRequests)
		case "500500500500":
			w.WriteHeader(http.StatusBadGateway)
		default:
			fmt.Fprint(w, `<html><body>Ничего не найдено</body></html>`)
		}
	})
	mux.HandleFunc("/id/777", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, companyPage("7736050003"))
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	client := NewClient("parser@example.com", "secret",
		WithBaseURL(srv.URL),
		WithHTTPClient(srv.Client()),
		WithRateLimit(1000, 1000),
	)
	return srv, client
}

func TestLogin_ReturnsSessionCookies(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)

	cookies, err := client.Login(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sess-abc", cookies["session_id"])
}

func TestLogin_BadCredentials(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t)
	client := NewClient("parser@example.com", "wrong",
		WithBaseURL(srv.URL), WithHTTPClient(srv.Client()), WithRateLimit(1000, 1000))

	_, err := client.Login(context.Background())
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestPremium_DirectHit(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	cookies := map[string]string{"session_id": "sess-abc"}

	p, err := client.Premium(context.Background(), cookies, "7707083893")
	require.NoError(t, err)

	assert.Equal(t, "7707083893", p.INN)
	assert.Equal(t, "1027700092661", p.OGRN)
	assert.Equal(t, "41.20", p.OKVED)
	assert.Equal(t, `ООО "Ромашка"`, p.Name)
	assert.Equal(t, "г. Самара, ул. Строителей, 1", p.Address)

	require.NotNil(t, p.Revenue)
	assert.Equal(t, int64(1_200_000_000), *p.Revenue)
	require.NotNil(t, p.Profit)
	assert.Equal(t, int64(-15_500_000), *p.Profit)
	require.NotNil(t, p.EmployeeCount)
	assert.Equal(t, 120, *p.EmployeeCount)
	require.NotNil(t, p.GovernmentContracts)
	assert.Equal(t, 7, *p.GovernmentContracts)
	require.NotNil(t, p.CourtCases)
	assert.Equal(t, 5, *p.CourtCases, "plaintiff and defendant cases are summed")

	assert.Contains(t, p.Founders, "Иванов Иван Иванович")
	assert.NotEmpty(t, p.Phones)
	assert.Contains(t, p.Emails, "info@romashka.ru")
}

func TestPremium_FollowsSearchResultLink(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	cookies := map[string]string{"session_id": "sess-abc"}

	p, err := client.Premium(context.Background(), cookies, "7736050003")
	require.NoError(t, err)
	assert.Equal(t, "7736050003", p.INN)
}

func TestPremium_NotFound(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	cookies := map[string]string{"session_id": "sess-abc"}

	_, err := client.Premium(context.Background(), cookies, "1111111111")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestPremium_RejectsWrongCompanyPage(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	cookies := map[string]string{"session_id": "sess-abc"}

	// The search lands on a company page, but it belongs to another INN.
	_, err := client.Premium(context.Background(), cookies, "500100732259")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "7707083893")
}

func TestPremium_ErrorMapping(t *testing.T) {
	t.Parallel()

	_, client := newTestServer(t)
	cookies := map[string]string{"session_id": "sess-abc"}

	_, err := client.Premium(context.Background(), cookies, "429429429429")
	assert.ErrorIs(t, err, ErrRateLimited)

	_, err = client.Premium(context.Background(), cookies, "500500500500")
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = client.Premium(context.Background(), map[string]string{}, "7707083893")
	assert.ErrorIs(t, err, ErrAuthRequired)
}

func TestParseMoney(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want int64
	}{
		{"1,2 млрд руб.", 1_200_000_000},
		{"350 млн", 350_000_000},
		{"120 тыс. руб", 120_000},
		{"1 500 000 руб.", 1_500_000},
		{"-15,5 млн руб.", -15_500_000},
	}
	for _, tt := range tests {
		got := parseMoney(tt.in)
		require.NotNil(t, got, tt.in)
		assert.Equal(t, tt.want, *got, tt.in)
	}

	assert.Nil(t, parseMoney("не раскрывается"))
}
