package di

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"

	"github.com/sandboxhq/scenario-deployer/internal/dao/leasedao"
	"github.com/sandboxhq/scenario-deployer/internal/services"
)

func ProvideLeaseDAO(env string, client *dynamodb.Client, config *services.Config) *leasedao.DAO {
	tableName := config.LeaseTableName
	if tableName == "" {
		tableName = leasedao.TableName(env)
	}
	return leasedao.New(client, tableName)
}
