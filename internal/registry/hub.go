package registry

import (
	"fmt"

	"github.com/jcdickinson/ferrisindex/internal/docs"
)

// Consumer receives tables once it is attached to a Hub.
type Consumer interface {
	RegisterImplementors(f *docs.ImplementorFile)
	RegisterSidebar(f *docs.SidebarFile)
}

// Hub routes published artifacts to an attached Consumer.
type Hub struct {
	implementors Slot[*docs.ImplementorFile]
	sidebars     Slot[*docs.SidebarFile]
}

// Default is the process-wide hub.
var Default = &Hub{}

// Publish registers a parsed artifact. Tables are cloned so later mutation
// by the caller cannot reach the consumer.
func (h *Hub) Publish(a *docs.Artifact) error {
	switch a.Kind {
	case docs.KindImplementors:
		h.implementors.Register(a.Implementors.Clone())
	case docs.KindSidebar:
		h.sidebars.Register(a.Sidebar.Clone())
	default:
		return fmt.Errorf("%w: kind %q", docs.ErrUnknownArtifact, a.Kind)
	}
	return nil
}

// Attach installs c as the consumer and flushes buffered tables to it,
// returning the number flushed.
func (h *Hub) Attach(c Consumer) int {
	return h.implementors.Install(c.RegisterImplementors) + h.sidebars.Install(c.RegisterSidebar)
}

// Detach removes the consumer; later tables are buffered.
func (h *Hub) Detach() {
	h.implementors.Uninstall()
	h.sidebars.Uninstall()
}

// Pending returns the number of buffered tables.
func (h *Hub) Pending() int {
	return h.implementors.Pending() + h.sidebars.Pending()
}

// Attached reports whether a consumer is installed.
func (h *Hub) Attached() bool {
	return h.implementors.Installed() && h.sidebars.Installed()
}

// Fanout delivers each table to every consumer in order.
type Fanout []Consumer

func (f Fanout) RegisterImplementors(file *docs.ImplementorFile) {
	for _, c := range f {
		c.RegisterImplementors(file.Clone())
	}
}

func (f Fanout) RegisterSidebar(file *docs.SidebarFile) {
	for _, c := range f {
		c.RegisterSidebar(file.Clone())
	}
}
