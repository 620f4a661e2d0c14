package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"forkhost/internal/transport"
)

func TestAdmin(t *testing.T) {
	sp := &fakeSpawner{}
	s := newSupervisor(t, sp, Options{})
	strategy, _ := transport.Lookup("sync", transport.Options{})

	p, err := s.Spawn(context.Background(), "worker-0", strategy)
	if err != nil {
		t.Fatal(err)
	}
	go fmt.Fprintln(sp.all()[0].statusW, `{"requests_total":9}`)
	eventually(t, "status", func() bool { return s.Workers()[0].Stats.RequestsTotal == 9 })

	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	t.Run("list", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/workers")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		var got []Info
		if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		if len(got) != 1 || got[0].ID != p.ID.String() || got[0].Name != "worker-0" {
			t.Errorf("workers = %+v", got)
		}
	})

	t.Run("get", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/workers/" + p.ID.String())
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status = %d", resp.StatusCode)
		}
		var got Info
		json.NewDecoder(resp.Body).Decode(&got) //nolint:errcheck
		if got.Pid != p.Pid || got.Stats.RequestsTotal != 9 {
			t.Errorf("worker = %+v", got)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/workers/nope")
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})

	t.Run("metrics", func(t *testing.T) {
		resp, err := http.Get(srv.URL + "/metrics")
		if err != nil {
			t.Fatal(err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		for _, want := range []string{
			"forkhost_workers 1",
			fmt.Sprintf(`forkhost_worker_requests_total{pid="%d",worker="worker-0"} 9`, p.Pid),
			"go_goroutines",
		} {
			if !strings.Contains(string(body), want) {
				t.Errorf("metrics missing %q", want)
			}
		}
	})

	t.Run("delete", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/workers/"+p.ID.String(), nil)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusAccepted {
			t.Fatalf("status = %d, want 202", resp.StatusCode)
		}
		if p.Alive() || !sp.all()[0].wasRevoked() {
			t.Error("DELETE should revoke the worker")
		}

		req, _ = http.NewRequest(http.MethodDelete, srv.URL+"/workers/nope", nil)
		resp, err = http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Errorf("status = %d, want 404", resp.StatusCode)
		}
	})
}
