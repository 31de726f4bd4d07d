package export

import (
	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/promptbatch/pkg/batch/adapter/storage"
	port "github.com/tigerroll/promptbatch/pkg/batch/core/application/port"
)

// NewExporterFromStorage builds a SNAPPY ParquetExporter on the "tasks" storage connection.
func NewExporterFromStorage(storage storageAdapter.StorageProvider) (port.ResultExporter, error) {
	conn, err := storage.GetConnection(storageAdapter.ConnectionTasks)
	if err != nil {
		return nil, err
	}
	return NewParquetExporter(conn, "SNAPPY")
}

// Module provides the port.ResultExporter.
var Module = fx.Provide(NewExporterFromStorage)
