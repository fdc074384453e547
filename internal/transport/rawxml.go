package transport

import "encoding/xml"

// rawElement captures an XML element verbatim — name, attributes, and inner
// XML — for features.rawxml passthrough when no disco handler recognizes an
// IQ payload. Marshaling writes the captured inner XML back out unmodified.
type rawElement struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Inner   []byte     `xml:",innerxml"`
}
