package rpc

import (
	"context"

	"github.com/klingon-exchange/walletd/internal/state"
)

func (h *handlers) registerSettings(r *Router) {
	r.Handle("settings.changeBalancesVisibility", Typed(func(context.Context, *Call, struct{}) (state.UISettings, error) {
		return h.Preferences.ToggleBalancesVisibility()
	}))
	r.Handle("settings.saveAccountAllLogo", Typed(func(_ context.Context, _ *Call, logo string) (state.UISettings, error) {
		return h.Preferences.SaveAccountAllLogo(logo)
	}))
	r.Handle("settings.saveTheme", Typed(func(_ context.Context, _ *Call, theme string) (state.UISettings, error) {
		return h.Preferences.SaveTheme(theme)
	}))
}

// AuthorizeListResponse wraps the site list.
type AuthorizeListResponse struct {
	List state.AuthUrls `json:"list"`
}

// ChangeSiteRequest is used by authorize.changeSite and changeSiteAll.
type ChangeSiteRequest struct {
	URL          string `json:"url"`
	ConnectValue bool   `json:"connectValue"`
}

// ChangeSitePerAccountRequest toggles one account on one site.
type ChangeSitePerAccountRequest struct {
	URL          string `json:"url"`
	Address      string `json:"address"`
	ConnectValue bool   `json:"connectValue"`
}

// ChangeSitePerSiteRequest replaces the account map of one site.
type ChangeSitePerSiteRequest struct {
	ID     string          `json:"id"`
	Values map[string]bool `json:"values"`
}

// ChangeSiteBlockRequest blocks or unblocks a site.
type ChangeSiteBlockRequest struct {
	ID             string `json:"id"`
	ConnectedValue bool   `json:"connectedValue"`
}

// AddSiteRequest authorizes a site for some accounts.
type AddSiteRequest struct {
	URL      string   `json:"url"`
	Accounts []string `json:"accounts"`
}

// URLRequest names a site.
type URLRequest struct {
	URL string `json:"url"`
}

func (h *handlers) registerAuth(r *Router) {
	a := h.Auth

	r.Handle("authorize.list", Typed(func(context.Context, *Call, struct{}) (AuthorizeListResponse, error) {
		urls, err := a.List()
		return AuthorizeListResponse{List: urls}, err
	}))
	r.Handle("authorize.changeSite", Typed(func(_ context.Context, _ *Call, req ChangeSiteRequest) (state.AuthUrls, error) {
		return a.ChangeSite(req.URL, req.ConnectValue)
	}))
	r.Handle("authorize.changeSiteAll", Typed(func(_ context.Context, _ *Call, req ChangeSiteRequest) (state.AuthUrls, error) {
		return a.ChangeSiteAll(req.ConnectValue)
	}))
	r.Handle("authorize.changeSitePerAccount", Typed(func(_ context.Context, _ *Call, req ChangeSitePerAccountRequest) (state.AuthUrls, error) {
		return a.ChangeSitePerAccount(req.URL, req.Address, req.ConnectValue)
	}))
	r.Handle("authorize.changeSitePerSite", Typed(func(_ context.Context, _ *Call, req ChangeSitePerSiteRequest) (state.AuthUrls, error) {
		return a.ChangeSitePerSite(req.ID, req.Values)
	}))
	r.Handle("authorize.changeSiteBlock", Typed(func(_ context.Context, _ *Call, req ChangeSiteBlockRequest) (state.AuthUrls, error) {
		return a.ChangeSiteBlock(req.ID, req.ConnectedValue)
	}))
	r.Handle("authorize.toggle", Typed(func(_ context.Context, _ *Call, url string) (state.AuthUrls, error) {
		return a.Toggle(url)
	}))
	r.Handle("authorize.forgetSite", Typed(func(_ context.Context, _ *Call, req URLRequest) (state.AuthUrls, error) {
		return a.ForgetSite(req.URL)
	}))
	r.Handle("authorize.forgetAllSite", Typed(func(context.Context, *Call, struct{}) (state.AuthUrls, error) {
		return a.ForgetAllSites()
	}))
	r.Handle("authorize.addSite", Typed(func(_ context.Context, _ *Call, req AddSiteRequest) (state.AuthUrls, error) {
		return a.AddSite(req.URL, req.Accounts)
	}))
}
