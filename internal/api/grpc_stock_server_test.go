package api

import (
	"context"
	"net"
	"net/http"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"ovotrack/server/internal/models"
)

func newStockClient(t *testing.T, a *testAPI) *StockQueryClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.UnaryInterceptor(AuthUnaryInterceptor(testSecret)))
	RegisterStockQueryServer(srv, NewStockGRPCServer(a.ledger, a.hub.log))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufconn: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return NewStockQueryClient(conn)
}

func authed(a *testAPI) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+a.tokens[models.RoleOperator])
}

func TestGRPCGetStockAndLedger(t *testing.T) {
	a := newTestAPI(t)
	v := a.createVoucher(t, "BLA 1", 10, 0)
	a.do(t, models.RoleSupervisor, http.MethodPost, "/api/v1/vouchers/"+v.ID+"/validate", nil)
	client := newStockClient(t, a)

	req, _ := structpb.NewStruct(map[string]interface{}{"sku_code": "BLA 1"})
	out, err := client.GetStock(authed(a), req)
	if err != nil {
		t.Fatalf("GetStock: %v", err)
	}
	if q := out.GetFields()["quantity"].GetNumberValue(); q != 1800 {
		t.Fatalf("quantity = %v, want 1800", q)
	}
	if space := out.GetFields()["space"].GetStringValue(); space != "warehouse" {
		t.Fatalf("space = %s, want warehouse default", space)
	}

	req, _ = structpb.NewStruct(map[string]interface{}{"voucher_id": v.ID})
	out, err = client.GetLedger(authed(a), req)
	if err != nil {
		t.Fatalf("GetLedger: %v", err)
	}
	entries := out.GetFields()["entries"].GetListValue().GetValues()
	if len(entries) != 1 {
		t.Fatalf("entries = %d, want 1", len(entries))
	}
	if q := entries[0].GetStructValue().GetFields()["quantity"].GetNumberValue(); q != 1800 {
		t.Fatalf("entry quantity = %v", q)
	}
}

func TestGRPCErrors(t *testing.T) {
	a := newTestAPI(t)
	client := newStockClient(t, a)
	empty, _ := structpb.NewStruct(map[string]interface{}{})

	_, err := client.GetStock(context.Background(), empty)
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("without token: %v", err)
	}
	_, err = client.GetStock(authed(a), empty)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("without sku: %v", err)
	}
	_, err = client.GetLedger(authed(a), empty)
	if status.Code(err) != codes.InvalidArgument {
		t.Fatalf("ledger without filter: %v", err)
	}
}
