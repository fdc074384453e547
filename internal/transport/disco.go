package transport

import (
	"context"
	"encoding/xml"

	"mellium.im/xmpp/stanza"
)

const (
	nsDiscoInfo  = "http://jabber.org/protocol/disco#info"
	nsDiscoItems = "http://jabber.org/protocol/disco#items"
	nsMUC        = "http://jabber.org/protocol/muc"
)

// discoIdentity is the identity the gateway reports for itself; every
// gateway is a "gateway" category component per the XMPP service discovery
// registry.
type discoIdentity struct {
	Category string `xml:"category,attr"`
	Type     string `xml:"type,attr"`
	Name     string `xml:"name,attr"`
}

type discoFeature struct {
	Var string `xml:"var,attr"`
}

type discoInfoQuery struct {
	XMLName    xml.Name `xml:"http://jabber.org/protocol/disco#info query"`
	Identities []discoIdentity `xml:"identity"`
	Features   []discoFeature  `xml:"feature"`
}

var gatewayFeatures = []string{
	nsDiscoInfo,
	nsDiscoItems,
	nsMUC,
	"jabber:iq:register",
	"urn:xmpp:receipts",
}

func (t *Transport) replyDiscoInfo(iq stanza.IQ) {
	q := discoInfoQuery{
		Identities: []discoIdentity{{Category: "gateway", Type: "im", Name: t.jid.String()}},
	}
	for _, f := range gatewayFeatures {
		q.Features = append(q.Features, discoFeature{Var: f})
	}

	reply := stanza.IQ{ID: iq.ID, To: iq.From, From: iq.To, Type: stanza.ResultIQ}
	_ = t.Send(context.Background(), struct {
		stanza.IQ
		Query discoInfoQuery `xml:"http://jabber.org/protocol/disco#info query"`
	}{IQ: reply, Query: q})
}

type discoItemsQuery struct {
	XMLName xml.Name `xml:"http://jabber.org/protocol/disco#items query"`
}

func (t *Transport) replyDiscoItems(iq stanza.IQ) {
	reply := stanza.IQ{ID: iq.ID, To: iq.From, From: iq.To, Type: stanza.ResultIQ}
	_ = t.Send(context.Background(), struct {
		stanza.IQ
		Query discoItemsQuery `xml:"http://jabber.org/protocol/disco#items query"`
	}{IQ: reply, Query: discoItemsQuery{}})
}
