// Package market discovers live sports markets from the venue catalog
// and tracks their lifecycle. The selection feeds the websocket
// subscription set: discovered markets get subscribed, delisted markets
// get unsubscribed and their books dropped.
package market
