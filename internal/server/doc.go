// Package server hosts the Fiber HTTP service, the request middleware chain,
// and the site registry that maps Host headers onto configured sites.
// It also owns the Deployer, which runs a generation's lifecycle and swaps it
// in as the serving generation once install has succeeded. Proxying itself
// lives in internal/proxy and plugs in through the ProxyHandler interface.
package server
