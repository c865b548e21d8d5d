package authorizations

import (
	"fmt"

	authcommand "github.com/goliatone/go-authorizations/command"
	authquery "github.com/goliatone/go-authorizations/query"
)

type CommandQueryService interface {
	authcommand.MutatingService
	authquery.Reader
}

type Commands struct {
	Initiate    *authcommand.InitiateCommand
	Complete    *authcommand.CompleteCommand
	Revoke      *authcommand.RevokeCommand
	Refresh     *authcommand.RefreshCommand
	HealthCheck *authcommand.HealthCheckCommand
}

type Queries struct {
	Get            *authquery.GetAuthorizationQuery
	List           *authquery.ListAuthorizationsQuery
	FindDuplicates *authquery.FindDuplicatesQuery
}

// Facade groups the command and query handlers bound to one service.
type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("authorizations: command/query service is required")
	}

	facade := &Facade{service: service}
	facade.commands = Commands{
		Initiate:    authcommand.NewInitiateCommand(service),
		Complete:    authcommand.NewCompleteCommand(service),
		Revoke:      authcommand.NewRevokeCommand(service),
		Refresh:     authcommand.NewRefreshCommand(service),
		HealthCheck: authcommand.NewHealthCheckCommand(service),
	}
	facade.queries = Queries{
		Get:            authquery.NewGetAuthorizationQuery(service),
		List:           authquery.NewListAuthorizationsQuery(service),
		FindDuplicates: authquery.NewFindDuplicatesQuery(service),
	}
	return facade, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}

var _ CommandQueryService = (*Service)(nil)
