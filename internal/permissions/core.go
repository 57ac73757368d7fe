package permissions

func init() {
	defs := []*Definition{
		{
			Resource:    ResourceUsers,
			Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete},
			Description: "User accounts",
		},
		{
			Resource:    ResourceGroups,
			Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete},
			Description: "Groups and their memberships",
		},
		{
			Resource:    ResourceRoles,
			Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete},
			Description: "Roles and role assignments",
		},
		{
			Resource:    ResourceSanta,
			Actions:     []Action{ActionCreate, ActionRead, ActionUpdate, ActionDelete, ActionApprove},
			Description: "Santa rules and configuration",
		},
		{
			Resource:    ResourceSystem,
			Actions:     []Action{ActionConfigure, ActionMonitor, ActionAudit},
			Description: "Server configuration, monitoring and the security audit log",
		},
		{
			Resource:    ResourceApprovals,
			Actions:     []Action{ActionRequest, ActionVote},
			Description: "Approval requests",
		},
		{
			Resource:    ResourceProfile,
			Actions:     []Action{ActionRead, ActionUpdate},
			Description: "The caller's own profile",
		},
		{
			Resource:    ResourceAudit,
			Actions:     []Action{ActionRead},
			Description: "Security audit events",
		},
	}

	for _, def := range defs {
		if err := Register(def); err != nil {
			panic(err)
		}
	}
}
