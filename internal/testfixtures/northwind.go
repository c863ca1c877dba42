// Package testfixtures holds metadata documents shared by package tests.
package testfixtures

// NorthwindV4 is a trimmed Northwind service document in CSDL 4.0.
const NorthwindV4 = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="4.0" xmlns:edmx="http://docs.oasis-open.org/odata/ns/edmx">
  <edmx:DataServices>
    <Schema Namespace="NorthwindModel" Alias="Self" xmlns="http://docs.oasis-open.org/odata/ns/edm">
      <EntityType Name="Category">
        <Key><PropertyRef Name="CategoryID"/></Key>
        <Property Name="CategoryID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="CategoryName" Type="Edm.String" Nullable="false"/>
        <Property Name="Description" Type="Edm.String"/>
        <Property Name="Picture" Type="Edm.Binary"/>
        <NavigationProperty Name="Products" Type="Collection(NorthwindModel.Product)" Partner="Category"/>
      </EntityType>
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductName" Type="Edm.String" Nullable="false"/>
        <Property Name="Code" Type="Edm.String"/>
        <Property Name="QuantityPerUnit" Type="Edm.String"/>
        <Property Name="UnitPrice" Type="Edm.Decimal"/>
        <Property Name="CategoryID" Type="Edm.Int32"/>
        <Property Name="Discontinued" Type="Edm.Boolean" Nullable="false"/>
        <Property Name="ReleaseDate" Type="Edm.DateTimeOffset"/>
        <Property Name="Tags" Type="Collection(Edm.String)"/>
        <NavigationProperty Name="Category" Type="Self.Category" Partner="Products"/>
        <Annotation Term="OData.Community.Keys.V1.AlternateKeys">
          <Collection>
            <Record Type="OData.Community.Keys.V1.AlternateKey">
              <PropertyValue Property="Key">
                <Collection>
                  <Record Type="OData.Community.Keys.V1.PropertyRef">
                    <PropertyValue Property="Alias" String="Code"/>
                    <PropertyValue Property="Name" PropertyPath="Code"/>
                  </Record>
                </Collection>
              </PropertyValue>
            </Record>
          </Collection>
        </Annotation>
      </EntityType>
      <EntityType Name="DiscontinuedProduct" BaseType="NorthwindModel.Product">
        <Property Name="DiscontinuedDate" Type="Edm.DateTimeOffset"/>
      </EntityType>
      <EntityType Name="OrderDetail">
        <Key>
          <PropertyRef Name="OrderID"/>
          <PropertyRef Name="ProductID"/>
        </Key>
        <Property Name="OrderID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="Quantity" Type="Edm.Int16" Nullable="false"/>
        <Property Name="OrderGuid" Type="Edm.Guid"/>
        <NavigationProperty Name="Product" Type="NorthwindModel.Product"/>
      </EntityType>
      <EntityType Name="Employee">
        <Key><PropertyRef Name="EmployeeID"/></Key>
        <Property Name="EmployeeID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="FirstName" Type="Edm.String"/>
        <Property Name="LastName" Type="Edm.String"/>
        <Property Name="HomeAddress" Type="NorthwindModel.Address"/>
        <Property Name="Rating" Type="NorthwindModel.Rating"/>
        <Property Name="Shift" Type="Edm.Duration"/>
        <NavigationProperty Name="Superior" Type="NorthwindModel.Employee"/>
        <NavigationProperty Name="Subordinates" Type="Collection(NorthwindModel.Employee)"/>
      </EntityType>
      <EntityType Name="Photo" HasStream="true">
        <Key><PropertyRef Name="PhotoID"/></Key>
        <Property Name="PhotoID" Type="Edm.Int64" Nullable="false"/>
        <Property Name="Name" Type="Edm.String"/>
      </EntityType>
      <EntityType Name="Tag" OpenType="true">
        <Key><PropertyRef Name="TagID"/></Key>
        <Property Name="TagID" Type="Edm.Int32" Nullable="false"/>
      </EntityType>
      <ComplexType Name="Address">
        <Property Name="Street" Type="Edm.String"/>
        <Property Name="City" Type="Edm.String"/>
        <Property Name="Location" Type="Edm.GeographyPoint"/>
      </ComplexType>
      <EnumType Name="Rating">
        <Member Name="Low" Value="0"/>
        <Member Name="Medium" Value="1"/>
        <Member Name="High" Value="2"/>
      </EnumType>
      <Function Name="MostExpensive">
        <ReturnType Type="NorthwindModel.Product"/>
      </Function>
      <Function Name="ProductsByCategory">
        <Parameter Name="CategoryID" Type="Edm.Int32" Nullable="false"/>
        <ReturnType Type="Collection(NorthwindModel.Product)"/>
      </Function>
      <Function Name="TopRated" IsBound="true">
        <Parameter Name="bindingParameter" Type="Collection(NorthwindModel.Product)"/>
        <Parameter Name="Count" Type="Edm.Int32"/>
        <ReturnType Type="Collection(NorthwindModel.Product)"/>
      </Function>
      <Action Name="Discount" IsBound="true">
        <Parameter Name="bindingParameter" Type="NorthwindModel.Product"/>
        <Parameter Name="Percent" Type="Edm.Int32" Nullable="false"/>
        <ReturnType Type="NorthwindModel.Product"/>
      </Action>
      <Action Name="Discount" IsBound="true">
        <Parameter Name="bindingParameter" Type="NorthwindModel.Category"/>
        <Parameter Name="Percent" Type="Edm.Int32" Nullable="false"/>
      </Action>
      <Action Name="Promote" IsBound="true">
        <Parameter Name="bindingParameter" Type="NorthwindModel.Employee"/>
        <Parameter Name="NewRating" Type="NorthwindModel.Rating"/>
        <Parameter Name="Office" Type="NorthwindModel.Address"/>
      </Action>
      <Action Name="ResetData"/>
      <Action Name="AddProducts">
        <Parameter Name="Products" Type="Collection(NorthwindModel.Product)"/>
        <Parameter Name="Labels" Type="Collection(Edm.String)"/>
      </Action>
      <EntityContainer Name="NorthwindEntities">
        <EntitySet Name="Categories" EntityType="NorthwindModel.Category">
          <NavigationPropertyBinding Path="Products" Target="Products"/>
        </EntitySet>
        <EntitySet Name="Products" EntityType="NorthwindModel.Product">
          <NavigationPropertyBinding Path="Category" Target="Categories"/>
          <Annotation Term="Org.OData.Core.V1.OptimisticConcurrency">
            <Collection><PropertyPath>ProductName</PropertyPath></Collection>
          </Annotation>
        </EntitySet>
        <EntitySet Name="OrderDetails" EntityType="NorthwindModel.OrderDetail">
          <NavigationPropertyBinding Path="Product" Target="Products"/>
        </EntitySet>
        <EntitySet Name="Employees" EntityType="NorthwindModel.Employee">
          <NavigationPropertyBinding Path="Superior" Target="Employees"/>
          <NavigationPropertyBinding Path="Subordinates" Target="Employees"/>
        </EntitySet>
        <EntitySet Name="Photos" EntityType="NorthwindModel.Photo"/>
        <EntitySet Name="Tags" EntityType="NorthwindModel.Tag"/>
        <Singleton Name="Me" Type="NorthwindModel.Employee"/>
        <FunctionImport Name="MostExpensive" Function="NorthwindModel.MostExpensive" EntitySet="Products"/>
        <FunctionImport Name="ProductsByCategory" Function="NorthwindModel.ProductsByCategory" EntitySet="Products"/>
        <ActionImport Name="ResetData" Action="NorthwindModel.ResetData"/>
        <ActionImport Name="AddProducts" Action="NorthwindModel.AddProducts"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`

// NorthwindV3 is a trimmed Northwind service document in CSDL 3.0 with
// associations instead of navigation property bindings.
const NorthwindV3 = `<?xml version="1.0" encoding="utf-8"?>
<edmx:Edmx Version="1.0" xmlns:edmx="http://schemas.microsoft.com/ado/2007/06/edmx">
  <edmx:DataServices m:DataServiceVersion="3.0" xmlns:m="http://schemas.microsoft.com/ado/2007/08/dataservices/metadata">
    <Schema Namespace="NorthwindModel" xmlns="http://schemas.microsoft.com/ado/2009/11/edm">
      <EntityType Name="Category">
        <Key><PropertyRef Name="CategoryID"/></Key>
        <Property Name="CategoryID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="CategoryName" Type="Edm.String" Nullable="false"/>
        <NavigationProperty Name="Products" Relationship="NorthwindModel.FK_Products_Categories" FromRole="Categories" ToRole="Products"/>
      </EntityType>
      <EntityType Name="Product">
        <Key><PropertyRef Name="ProductID"/></Key>
        <Property Name="ProductID" Type="Edm.Int32" Nullable="false"/>
        <Property Name="ProductName" Type="Edm.String" Nullable="false"/>
        <Property Name="UnitPrice" Type="Edm.Decimal"/>
        <Property Name="UnitsInStock" Type="Edm.Int64"/>
        <Property Name="CategoryID" Type="Edm.Int32"/>
        <Property Name="ReleaseDate" Type="Edm.DateTime"/>
        <Property Name="RowVersion" Type="Edm.Binary" ConcurrencyMode="Fixed"/>
        <NavigationProperty Name="Category" Relationship="NorthwindModel.FK_Products_Categories" FromRole="Products" ToRole="Categories"/>
      </EntityType>
      <Association Name="FK_Products_Categories">
        <End Role="Categories" Type="NorthwindModel.Category" Multiplicity="0..1"/>
        <End Role="Products" Type="NorthwindModel.Product" Multiplicity="*"/>
      </Association>
      <EntityContainer Name="NorthwindEntities" m:IsDefaultEntityContainer="true">
        <EntitySet Name="Categories" EntityType="NorthwindModel.Category"/>
        <EntitySet Name="Products" EntityType="NorthwindModel.Product"/>
        <AssociationSet Name="FK_Products_Categories" Association="NorthwindModel.FK_Products_Categories">
          <End Role="Categories" EntitySet="Categories"/>
          <End Role="Products" EntitySet="Products"/>
        </AssociationSet>
        <FunctionImport Name="ProductsByRating" EntitySet="Products" ReturnType="Collection(NorthwindModel.Product)" m:HttpMethod="GET">
          <Parameter Name="rating" Type="Edm.Int32" Mode="In"/>
        </FunctionImport>
        <FunctionImport Name="DiscontinueAll" m:HttpMethod="POST"/>
      </EntityContainer>
    </Schema>
  </edmx:DataServices>
</edmx:Edmx>`
