package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

// TestSetupMetricsRoute_ExposesDomainMetrics は記録した各メトリクスが
// /metrics のテキスト出力に現れることを検証する。
func TestSetupMetricsRoute_ExposesDomainMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)
	c.RecordSignIn("magic_link")
	c.RecordGeneration("pdf", nil)
	c.RecordGeneration("pdf", errors.New("backend timeout"))
	c.RecordRateLimited("auth")
	c.RecordCleanup("magic_links", 3)
	c.RegisterAuthStateStores(func() int { return 2 })

	handler := SetupMetricsRoute(reg)
	if handler == nil {
		t.Fatal("expected non-nil handler")
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	body, _ := io.ReadAll(w.Body)
	out := string(body)

	tests := []struct {
		name string
		want string
	}{
		{name: "サインイン", want: `momentum_sign_ins_total{method="magic_link"} 1`},
		{name: "レート制限", want: `momentum_rate_limited_total{limit_type="auth"} 1`},
		{name: "クリーンアップ", want: `momentum_cleanup_deleted_total{target="magic_links"} 3`},
		{name: "セッション状態ストア数", want: `momentum_authstate_stores 2`},
		{name: "生成メトリクス", want: `momentum_generations_total{kind="pdf"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(out, tt.want) {
				t.Errorf("response should contain %q", tt.want)
			}
		})
	}
}
