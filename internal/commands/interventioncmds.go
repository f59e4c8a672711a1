package commands

func cmdSteer(d *Deps, req Request) Result {
	if req.Cmd.Raw == "" {
		return failf("usage: /steer <message>")
	}
	d.Interventions.PushSteer(req.ChatID, req.Cmd.Raw)
	return ok("steer queued — applied between tool calls of the current turn")
}

func cmdNext(d *Deps, req Request) Result {
	if req.Cmd.Raw == "" {
		return failf("usage: /next <message>")
	}
	d.Interventions.PushFollowUp(req.ChatID, req.Cmd.Raw)
	return ok("follow-up queued — runs after the current turn completes")
}
