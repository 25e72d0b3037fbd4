package health

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"cryptoetl/pkg/models"
)

type fakeState struct {
	pingErr error
	latest  *models.RunStatus
}

func (f *fakeState) Ping(context.Context) error { return f.pingErr }

func (f *fakeState) Latest(context.Context) (*models.RunStatus, error) { return f.latest, nil }

func dial(t *testing.T, r *Reporter) healthpb.HealthClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	r.Register(s)
	go func() { _ = s.Serve(lis) }()
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return healthpb.NewHealthClient(conn)
}

func check(t *testing.T, c healthpb.HealthClient, svc string) healthpb.HealthCheckResponse_ServingStatus {
	t.Helper()
	resp, err := c.Check(context.Background(), &healthpb.HealthCheckRequest{Service: svc})
	require.NoError(t, err)
	return resp.GetStatus()
}

func TestReporterTracksLatestRun(t *testing.T) {
	state := &fakeState{}
	r := NewReporter(state, 0, nil)
	c := dial(t, r)
	ctx := context.Background()

	r.Refresh(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_UNKNOWN, check(t, c, ServiceETL))

	state.latest = &models.RunStatus{Status: models.RunFailed}
	r.Refresh(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ServiceETL))

	state.latest = &models.RunStatus{Status: models.RunSuccess}
	r.Refresh(ctx)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(t, c, ServiceETL))
}

func TestReporterStorageDown(t *testing.T) {
	state := &fakeState{pingErr: errors.New("db gone"), latest: &models.RunStatus{Status: models.RunSuccess}}
	r := NewReporter(state, 0, nil)
	c := dial(t, r)

	r.Refresh(context.Background())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ""))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(t, c, ServiceETL))
}
