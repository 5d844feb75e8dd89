package bootstrap

import (
	"testing"

	"github.com/stretchr/testify/require"

	coreconfig "github.com/m3rciful/paybot/core/config"
)

type stubQRCodec struct{}

func (stubQRCodec) RenderImage(token string) ([]byte, error) { return []byte(token), nil }
func (stubQRCodec) ScanImage([]byte) (string, error)         { return "", nil }

func testConfig(t *testing.T) *coreconfig.Config {
	t.Helper()
	cfg := &coreconfig.Config{
		Signal: coreconfig.SignalConfig{
			SocketPath: "/tmp/signald.sock",
			Account:    "+16505550100",
		},
		Ledger: coreconfig.LedgerConfig{URL: "http://localhost:9090/wallet"},
	}
	require.NoError(t, coreconfig.Normalize(cfg))
	return cfg
}

func TestBuildAppWiresGraph(t *testing.T) {
	app, err := BuildApp(testConfig(t), &Infra{}, WithQRCodec(stubQRCodec{}))
	require.NoError(t, err)

	require.NotNil(t, app.Transport)
	require.NotNil(t, app.Sender)
	require.NotNil(t, app.Sessions)
	require.NotNil(t, app.Coordinator)
	require.NotNil(t, app.Dispatcher)

	_, cmd, ok := app.Registry.Lookup("pay")
	require.True(t, ok)
	require.NotNil(t, cmd.Handler)

	app.Sender.Close()
}

func TestBuildAppRejectsNilInputs(t *testing.T) {
	_, err := BuildApp(nil, &Infra{})
	require.Error(t, err)

	_, err = BuildApp(testConfig(t), nil)
	require.Error(t, err)
}

func TestWithQRCodecInstallsCodec(t *testing.T) {
	var o appOptions
	WithQRCodec(stubQRCodec{})(&o)
	require.NotNil(t, o.qr)
}

func TestBuildAppRejectsBadAdminNumber(t *testing.T) {
	cfg := testConfig(t)
	cfg.Signal.AdminNumber = "not-a-number"
	_, err := BuildApp(cfg, &Infra{})
	require.Error(t, err)
}
