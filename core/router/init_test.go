package router

import (
	"os"
	"testing"

	"github.com/m3rciful/paybot/core/logger"
)

func TestMain(m *testing.M) {
	if err := logger.InitLogger(nil); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}
