package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chantier-erp/chantier/internal/app"
	_ "github.com/chantier-erp/chantier/testing"
)

func TestMainReturnsInTestMode(t *testing.T) {
	app.RefreshTestMode()
	require.True(t, app.InTestMode())
	main()
}
