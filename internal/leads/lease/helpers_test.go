package lease

import "leadflow_backend/platform/logger"

func testLogger() *logger.Logger {
	return logger.New("development")
}
