package main

import (
	"context"
	"errors"
	"net/http"
)

func main() {
	app := mustBootstrapSyncAPI()
	defer app.Close()

	err := runSyncAPI(app.ctx, app.opts, app.api)
	if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, http.ErrServerClosed) {
		panic(err)
	}
}
