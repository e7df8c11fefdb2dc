// docsctl runs operational jobs against the document store.
//
//	docsctl migrate
//	docsctl warm-cache
//	docsctl verify-cache
//	docsctl reindex --batch-size 500
//	docsctl init-topic
//
// Flags can also be set through DOCSCTL_* environment variables
// (DOCSCTL_BATCH_SIZE, DOCSCTL_TIMEOUT). Connections use the server's DB_* and REDIS_* settings.
package main

import (
	"os"

	"github.com/mmdatafocus/docs_backend/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		config.GetLogger().WithField("module", "docsctl").Error(err.Error())
		os.Exit(1)
	}
}
