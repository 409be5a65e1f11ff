package singbox

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttputil"
)

func startFakeSingBox(t *testing.T, handler fasthttp.RequestHandler) *SingBoxAPI {
	t.Helper()

	ln := fasthttputil.NewInmemoryListener()
	srv := &fasthttp.Server{Handler: handler}
	go srv.Serve(ln)
	t.Cleanup(func() { _ = srv.Shutdown() })

	api := &SingBoxAPI{}
	client := &fasthttp.Client{Dial: func(string) (net.Conn, error) { return ln.Dial() }}
	if err := api.InitWithClient("127.0.0.1:9090", client); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(api.Close)
	return api
}

func TestGetClientTraffic(t *testing.T) {
	var gotReset string
	api := startFakeSingBox(t, func(ctx *fasthttp.RequestCtx) {
		if string(ctx.Path()) != "/stats" {
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			return
		}
		gotReset = string(ctx.QueryArgs().Peek("reset"))
		ctx.SetContentType("application/json")
		ctx.SetBodyString(`{
			"user>>>42.alice>>>traffic>>>uplink": 1000,
			"user>>>42.alice>>>traffic>>>downlink": 500,
			"user>>>7.bob>>>traffic>>>downlink": 3,
			"inbound>>>vless-in>>>traffic>>>uplink": 9999
		}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	got, err := api.GetClientTraffic(ctx, true)
	if err != nil {
		t.Fatalf("GetClientTraffic: %v", err)
	}
	if gotReset != "true" {
		t.Errorf("reset query = %q, want true", gotReset)
	}
	if len(got) != 2 {
		t.Fatalf("got %d clients, want 2", len(got))
	}
	if *got[0] != (ClientTraffic{Email: "42.alice", Up: 1000, Down: 500}) {
		t.Errorf("first = %+v", *got[0])
	}
	if *got[1] != (ClientTraffic{Email: "7.bob", Down: 3}) {
		t.Errorf("second = %+v", *got[1])
	}
}

func TestGetClientTrafficBadStatus(t *testing.T) {
	api := startFakeSingBox(t, func(ctx *fasthttp.RequestCtx) {
		ctx.SetStatusCode(fasthttp.StatusInternalServerError)
	})
	if _, err := api.GetClientTraffic(context.Background(), false); err == nil {
		t.Fatal("expected error on 500")
	}
}

func TestGetClientTrafficNotInitialized(t *testing.T) {
	api := &SingBoxAPI{}
	if _, err := api.GetClientTraffic(context.Background(), false); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseUserTrafficKey(t *testing.T) {
	if email, dir, ok := parseUserTrafficKey("user>>>1.a>>>traffic>>>uplink"); !ok || email != "1.a" || dir != "uplink" {
		t.Errorf("got (%q, %q, %v)", email, dir, ok)
	}
	for _, key := range []string{"outbound>>>x>>>traffic>>>uplink", "user>>>1.a>>>traffic", "user>>>1.a>>>conn>>>uplink"} {
		if _, _, ok := parseUserTrafficKey(key); ok {
			t.Errorf("parseUserTrafficKey(%q) accepted", key)
		}
	}
}
