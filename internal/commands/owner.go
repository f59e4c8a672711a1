package commands

import (
	"strings"

	"github.com/msgcode/msgcode/internal/config"
	"github.com/msgcode/msgcode/internal/transport"
)

// Owner changes persist to the global config and are pushed into the live
// ingress loop so they apply without a restart.

func cmdOwner(d *Deps, req Request) Result {
	args := req.Cmd.Args
	if len(args) == 0 || args[0] == "list" {
		return ok("owners: %s", strings.Join(d.Config.Owners(), ", "))
	}
	if len(args) < 2 {
		return failf("usage: /owner add|remove <identity>")
	}
	id := transport.NormalizeSender(args[1])
	switch args[0] {
	case "add":
		for _, o := range d.Config.Owners() {
			if transport.SameIdentity(o, id) {
				return failf("%s is already an owner", id)
			}
		}
		d.Config.ExtraOwners = append(d.Config.ExtraOwners, id)
	case "remove":
		if transport.SameIdentity(d.Config.Owner, id) {
			return failf("the primary owner cannot be removed")
		}
		kept := d.Config.ExtraOwners[:0]
		removed := false
		for _, o := range d.Config.ExtraOwners {
			if transport.SameIdentity(o, id) {
				removed = true
				continue
			}
			kept = append(kept, o)
		}
		if !removed {
			return failf("%s is not an owner", id)
		}
		d.Config.ExtraOwners = kept
	default:
		return failf("usage: /owner add|remove|list")
	}

	if err := config.Save(d.ConfigPath, d.Config); err != nil {
		return failf("save failed: %v", err)
	}
	if d.Ingress != nil {
		d.Ingress.SetOwners(d.Config.Owners())
	}
	return ok("owners: %s", strings.Join(d.Config.Owners(), ", "))
}

func cmdOwnerOnly(d *Deps, req Request) Result {
	if len(req.Cmd.Args) == 0 {
		return ok("owner-only in groups: %v", d.Config.OwnerOnlyInGroup)
	}
	switch req.Cmd.Args[0] {
	case "on":
		d.Config.OwnerOnlyInGroup = true
	case "off":
		d.Config.OwnerOnlyInGroup = false
	default:
		return failf("usage: /owner-only on|off")
	}
	if err := config.Save(d.ConfigPath, d.Config); err != nil {
		return failf("save failed: %v", err)
	}
	if d.Ingress != nil {
		d.Ingress.SetOwnerOnly(d.Config.OwnerOnlyInGroup)
	}
	return ok("owner-only in groups: %v", d.Config.OwnerOnlyInGroup)
}
